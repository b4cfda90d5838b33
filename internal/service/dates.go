package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"welfare/internal/model"
	"welfare/internal/store"
	"welfare/internal/validate"
)

const dateLayout = "2006-01-02"

type SpecialDateInput struct {
	Label           string   `json:"label" validate:"notblank,max=100"`
	Date            string   `json:"date" validate:"required,datetime=2006-01-02"`
	Annual          *bool    `json:"annual"`
	Recipients      []string `json:"recipients" validate:"omitempty,max=3,dive,recipient"`
	ReminderEnabled *bool    `json:"reminder_enabled"`
}

func (in SpecialDateInput) apply(d *model.SpecialDate) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	date, err := time.Parse(dateLayout, in.Date)
	if err != nil {
		return fmt.Errorf("%w: date: %w", ErrInvalid, err)
	}
	d.Label = strings.TrimSpace(in.Label)
	d.Date = date
	d.Annual = in.Annual == nil || *in.Annual
	d.ReminderEnabled = in.ReminderEnabled == nil || *in.ReminderEnabled

	d.Recipients = d.Recipients[:0]
	seen := map[string]bool{}
	for _, r := range in.Recipients {
		if !seen[r] {
			seen[r] = true
			d.Recipients = append(d.Recipients, r)
		}
	}
	if len(d.Recipients) == 0 {
		d.Recipients = []string{model.RecipientMember}
	}
	return nil
}

func (s *MemberService) ListDates(ctx context.Context, m *model.Member) ([]model.SpecialDate, error) {
	return s.store.ListSpecialDates(ctx, m.ID)
}

func (s *MemberService) CreateDate(ctx context.Context, m *model.Member, in SpecialDateInput, ip string) (*model.SpecialDate, error) {
	d := &model.SpecialDate{MemberID: m.ID}
	if err := in.apply(d); err != nil {
		return nil, err
	}
	if err := s.store.CreateSpecialDate(ctx, d); err != nil {
		return nil, err
	}
	s.audit.Append(ctx, m.MembershipNumber, "date.create", map[string]any{"id": d.ID, "label": d.Label}, ip)
	return d, nil
}

func (s *MemberService) UpdateDate(ctx context.Context, m *model.Member, id int64, in SpecialDateInput, ip string) (*model.SpecialDate, error) {
	cur, err := s.store.GetSpecialDate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.MemberID != m.ID {
		return nil, store.ErrNotFound
	}
	if err := in.apply(cur); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSpecialDate(ctx, cur); err != nil {
		return nil, err
	}
	s.audit.Append(ctx, m.MembershipNumber, "date.update", map[string]any{"id": id}, ip)
	return cur, nil
}

// DeleteDate removes the date. Dates that already have reminder history are
// disabled instead so the log keeps its reference.
func (s *MemberService) DeleteDate(ctx context.Context, m *model.Member, id int64, ip string) error {
	if err := s.store.DeleteSpecialDate(ctx, m.ID, id); err != nil {
		return err
	}
	s.audit.Append(ctx, m.MembershipNumber, "date.delete", map[string]any{"id": id}, ip)
	return nil
}
