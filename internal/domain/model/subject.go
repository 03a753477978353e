package model

import (
	"encoding/json"
	"fmt"

	"hotspot-billing/internal/domain"
)

type SubjectKind string

const (
	SubjectNewPurchase      SubjectKind = "new_purchase"
	SubjectResellerPurchase SubjectKind = "reseller_purchase"
	SubjectRenewal          SubjectKind = "renewal"
	SubjectResellerRenewal  SubjectKind = "reseller_renewal"
)

// Subject is the tagged union of things an order can buy. The reconciliation
// engine dispatches the provisioning call on the concrete variant; everything
// else in the order lifecycle is shared.
type Subject interface {
	Kind() SubjectKind
	Validate() error
}

// NewPurchase provisions a brand new client hotspot account.
type NewPurchase struct {
	Username string `json:"username"`
	Password string `json:"password"`
	PlanCode string `json:"plan_code"`
	Days     int    `json:"days"`
}

func (s NewPurchase) Kind() SubjectKind { return SubjectNewPurchase }

func (s NewPurchase) Validate() error {
	if s.Username == "" || s.PlanCode == "" || s.Days <= 0 {
		return domain.ErrInvalidArgument
	}
	return nil
}

// ResellerPurchase provisions a reseller account with a device allowance.
type ResellerPurchase struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	PlanCode    string `json:"plan_code"`
	Days        int    `json:"days"`
	DeviceLimit int    `json:"device_limit"`
}

func (s ResellerPurchase) Kind() SubjectKind { return SubjectResellerPurchase }

func (s ResellerPurchase) Validate() error {
	if s.Username == "" || s.PlanCode == "" || s.Days <= 0 || s.DeviceLimit <= 0 {
		return domain.ErrInvalidArgument
	}
	return nil
}

// Renewal extends an existing client account.
type Renewal struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	Days      int    `json:"days"`
}

func (s Renewal) Kind() SubjectKind { return SubjectRenewal }

func (s Renewal) Validate() error {
	if s.AccountID == "" || s.Days <= 0 {
		return domain.ErrInvalidArgument
	}
	return nil
}

// ResellerRenewal extends a reseller account and may change its device
// allowance (an "upgrade"). DeviceLimit == 0 means keep the current limit;
// resolving the resulting diff requires reading remote account state first.
type ResellerRenewal struct {
	AccountID   string `json:"account_id"`
	Username    string `json:"username"`
	Days        int    `json:"days"`
	DeviceLimit int    `json:"device_limit"`
}

func (s ResellerRenewal) Kind() SubjectKind { return SubjectResellerRenewal }

func (s ResellerRenewal) Validate() error {
	if s.AccountID == "" || s.Days <= 0 || s.DeviceLimit < 0 {
		return domain.ErrInvalidArgument
	}
	return nil
}

type subjectEnvelope struct {
	Kind SubjectKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeSubject serializes a subject with its kind tag for storage.
func EncodeSubject(s Subject) ([]byte, error) {
	if s == nil {
		return nil, domain.ErrInvalidArgument
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode subject: %w", err)
	}
	return json.Marshal(subjectEnvelope{Kind: s.Kind(), Data: data})
}

// DecodeSubject deserializes a stored subject, failing closed on unknown
// kinds or payloads that do not validate.
func DecodeSubject(raw []byte) (Subject, error) {
	var env subjectEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode subject envelope: %w", err)
	}
	var s Subject
	switch env.Kind {
	case SubjectNewPurchase:
		var v NewPurchase
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		s = v
	case SubjectResellerPurchase:
		var v ResellerPurchase
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		s = v
	case SubjectRenewal:
		var v Renewal
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		s = v
	case SubjectResellerRenewal:
		var v ResellerRenewal
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		s = v
	default:
		return nil, fmt.Errorf("%w: unknown subject kind %q", domain.ErrInvalidArgument, env.Kind)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
