package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Notifier = (*TelegramNotifier)(nil)

// TelegramNotifier posts sale confirmations to a buyer-facing channel and
// paid-but-not-delivered alerts to an ops channel.
type TelegramNotifier struct {
	bot         *tgbotapi.BotAPI
	buyerChatID int64
	opsChatID   int64
	log         *zerolog.Logger
}

func NewTelegramNotifier(cfg config.NotifyConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	nLog := logger.With().Str("component", "TelegramNotifier").Logger()
	return &TelegramNotifier{
		bot:         bot,
		buyerChatID: cfg.BuyerChatID,
		opsChatID:   cfg.OpsChatID,
		log:         &nLog,
	}, nil
}

func (n *TelegramNotifier) NotifySaleCompleted(ctx context.Context, o *model.Order) error {
	if o.Provisioning == nil {
		return nil
	}
	text := fmt.Sprintf(
		"Order %s delivered\nKind: %s\nAccount: %s\nDays added: %d\nExpires: %s\nAmount: %s",
		o.ID, o.Subject.Kind(), o.Provisioning.Username, o.Provisioning.DaysAdded,
		o.Provisioning.ExpiresAt.Format("2006-01-02"), o.Amount.String(),
	)
	msg := tgbotapi.NewMessage(n.buyerChatID, text)
	_, err := n.bot.Send(msg)
	return err
}

func (n *TelegramNotifier) NotifyProvisioningFailed(ctx context.Context, o *model.Order, cause error) error {
	text := fmt.Sprintf(
		"PAID BUT NOT DELIVERED\nOrder %s (%s), amount %s, payment %s\nCause: %v",
		o.ID, o.Subject.Kind(), o.Amount.String(), o.GatewayPaymentID, cause,
	)
	msg := tgbotapi.NewMessage(n.opsChatID, text)
	_, err := n.bot.Send(msg)
	return err
}
