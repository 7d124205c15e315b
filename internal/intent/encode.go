package intent

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireIntent is the JSON shape accepted by the validator.
type wireIntent struct {
	Kind            Kind     `json:"kind"`
	Network         Network  `json:"network"`
	From            string   `json:"from"`
	To              string   `json:"to,omitempty"`
	Lamports        *uint64  `json:"lamports,omitempty"`
	MaxLamports     *uint64  `json:"maxLamports,omitempty"`
	Mint            string   `json:"mint,omitempty"`
	Amount          string   `json:"amount,omitempty"`
	Decimals        *uint8   `json:"decimals,omitempty"`
	Memo            string   `json:"memo,omitempty"`
	AllowRecipients []string `json:"allowRecipients,omitempty"`
	ExpiresAt       string   `json:"expiresAt"`
	Note            string   `json:"note,omitempty"`
}

// toWire is exhaustive over kinds through the Visitor.
type toWire struct {
	w wireIntent
}

func (t *toWire) header(k Kind, h Header) {
	t.w.Kind = k
	t.w.Network = h.Network
	t.w.From = h.From
	t.w.ExpiresAt = h.ExpiresAt.UTC().Format(time.RFC3339Nano)
	t.w.Note = h.Note
}

func (t *toWire) VisitSOLTransfer(s *SOLTransfer) error {
	t.header(s.Kind(), s.Header)
	lamports := s.Lamports
	t.w.To = s.To
	t.w.Lamports = &lamports
	t.w.MaxLamports = s.MaxLamports
	t.w.AllowRecipients = s.AllowRecipients
	return nil
}

func (t *toWire) VisitTokenTransfer(s *TokenTransfer) error {
	t.header(s.Kind(), s.Header)
	decimals := s.Decimals
	t.w.To = s.To
	t.w.Mint = s.Mint
	t.w.Amount = s.Amount
	t.w.Decimals = &decimals
	t.w.AllowRecipients = s.AllowRecipients
	return nil
}

func (t *toWire) VisitMemoOnly(m *MemoOnly) error {
	t.header(m.Kind(), m.Header)
	t.w.Memo = m.Memo
	return nil
}

// Marshal renders an intent in its wire form, indented for humans.
// The receipt hash is taken over whatever bytes are later submitted, not
// over this rendering.
func Marshal(in Intent) ([]byte, error) {
	if in == nil {
		return nil, fmt.Errorf("intent: marshal nil intent")
	}
	var t toWire
	if err := in.Accept(&t); err != nil {
		return nil, err
	}
	return json.MarshalIndent(t.w, "", "  ")
}

// Example returns a sample intent of the given kind expiring one hour after
// now. newAddress supplies fresh account addresses.
func Example(kind Kind, now time.Time, newAddress func() string) (Intent, error) {
	h := Header{
		Network:   Devnet,
		From:      newAddress(),
		ExpiresAt: now.Add(time.Hour).UTC().Truncate(time.Millisecond),
		Note:      "example intent",
	}
	switch kind {
	case KindSOLTransfer:
		maxLamports := uint64(1_500_000)
		return &SOLTransfer{
			Header:      h,
			To:          newAddress(),
			Lamports:    1_000_000,
			MaxLamports: &maxLamports,
		}, nil
	case KindTokenTransfer:
		return &TokenTransfer{
			Header:   h,
			To:       newAddress(),
			Mint:     newAddress(),
			Amount:   "2500000",
			Decimals: 6,
		}, nil
	case KindMemoOnly:
		return &MemoOnly{Header: h, Memo: "agent checkpoint: rebalance complete"}, nil
	default:
		return nil, fmt.Errorf("intent: unknown kind %q", kind)
	}
}
