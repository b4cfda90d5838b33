package service

import (
	"context"
	"strings"

	"welfare/internal/model"
	"welfare/internal/store"
	"welfare/internal/validate"
)

type NextOfKinInput struct {
	Name         string `json:"name" validate:"notblank,max=200"`
	Relationship string `json:"relationship" validate:"notblank,max=50"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
	Email        string `json:"email" validate:"omitempty,email,max=254"`
	IsPrimary    bool   `json:"is_primary"`
}

func (in NextOfKinInput) apply(k *model.NextOfKin) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	k.Name = strings.TrimSpace(in.Name)
	k.Relationship = strings.TrimSpace(in.Relationship)
	k.Phone = strings.TrimSpace(in.Phone)
	k.Email = strings.TrimSpace(in.Email)
	k.IsPrimary = in.IsPrimary
	return nil
}

func (s *MemberService) ListKin(ctx context.Context, m *model.Member) ([]model.NextOfKin, error) {
	return s.store.ListNextOfKin(ctx, m.ID)
}

func (s *MemberService) CreateKin(ctx context.Context, m *model.Member, in NextOfKinInput, ip string) (*model.NextOfKin, error) {
	k := &model.NextOfKin{MemberID: m.ID}
	if err := in.apply(k); err != nil {
		return nil, err
	}
	if err := s.store.CreateNextOfKin(ctx, k); err != nil {
		return nil, err
	}
	s.audit.Append(ctx, m.MembershipNumber, "kin.create", map[string]any{"id": k.ID, "primary": k.IsPrimary}, ip)
	return k, nil
}

func (s *MemberService) UpdateKin(ctx context.Context, m *model.Member, id int64, in NextOfKinInput, ip string) (*model.NextOfKin, error) {
	k := &model.NextOfKin{ID: id, MemberID: m.ID}
	if err := in.apply(k); err != nil {
		return nil, err
	}
	if err := s.store.UpdateNextOfKin(ctx, k); err != nil {
		return nil, err
	}
	if in.IsPrimary {
		if err := s.store.SetPrimaryNextOfKin(ctx, m.ID, id); err != nil {
			return nil, err
		}
	}
	s.audit.Append(ctx, m.MembershipNumber, "kin.update", map[string]any{"id": id}, ip)

	all, err := s.store.ListNextOfKin(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *MemberService) DeleteKin(ctx context.Context, m *model.Member, id int64, ip string) error {
	if err := s.store.DeleteNextOfKin(ctx, m.ID, id); err != nil {
		return err
	}
	s.audit.Append(ctx, m.MembershipNumber, "kin.delete", map[string]any{"id": id}, ip)
	return nil
}

func (s *MemberService) SetPrimaryKin(ctx context.Context, m *model.Member, id int64, ip string) error {
	if err := s.store.SetPrimaryNextOfKin(ctx, m.ID, id); err != nil {
		return err
	}
	s.audit.Append(ctx, m.MembershipNumber, "kin.primary", map[string]any{"id": id}, ip)
	return nil
}
