package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithPromotesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithOrderID(ctx, "order-9")

	With(ctx, &base).Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"trace_id":"trace-1"`) {
		t.Errorf("trace_id missing from %s", out)
	}
	if !strings.Contains(out, `"order_id":"order-9"`) {
		t.Errorf("order_id missing from %s", out)
	}
}

func TestWithIgnoresEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	With(context.Background(), &base).Info().Msg("hello")

	if out := buf.String(); strings.Contains(out, "trace_id") || strings.Contains(out, "order_id") {
		t.Errorf("unexpected context fields in %s", out)
	}
}

func TestTraceDurationLogsStartAndFinish(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf).Level(zerolog.TraceLevel)

	done := TraceDuration(&base, "ReconcileUC.ConfirmAndProvision")
	done()

	out := buf.String()
	if !strings.Contains(out, `"message":"start"`) {
		t.Errorf("start entry missing from %s", out)
	}
	if !strings.Contains(out, `"message":"finish"`) || !strings.Contains(out, "duration") {
		t.Errorf("finish entry with duration missing from %s", out)
	}
	if !strings.Contains(out, `"method":"ReconcileUC.ConfirmAndProvision"`) {
		t.Errorf("method field missing from %s", out)
	}
}
