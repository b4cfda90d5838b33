package reminder

import (
	"context"
	"log/slog"
	"strings"

	"welfare/internal/model"
)

type Recipient struct {
	Kind    string
	Name    string
	Address string
}

// Gap describes a configured recipient that could not be turned into an
// address. Gaps are reported, never treated as failures.
type Gap struct {
	Kind   string
	Reason string
}

type Resolution struct {
	Recipients []Recipient
	Gaps       []Gap
}

type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve expands the abstract recipient set of a date into addresses.
// Duplicate addresses (e.g. the primary kin listed by both primary_kin and
// all_kin) are sent to once. An empty result is valid.
func (r *Resolver) Resolve(ctx context.Context, m model.Member, kin []model.NextOfKin, set []string) Resolution {
	var res Resolution
	seen := make(map[string]bool)
	add := func(kind, name, addr string) {
		key := strings.ToLower(strings.TrimSpace(addr))
		if seen[key] {
			return
		}
		seen[key] = true
		res.Recipients = append(res.Recipients, Recipient{Kind: kind, Name: name, Address: strings.TrimSpace(addr)})
	}
	gap := func(kind, reason string) {
		res.Gaps = append(res.Gaps, Gap{Kind: kind, Reason: reason})
		r.logger.InfoContext(ctx, "recipient resolution gap",
			"member_id", m.ID, "kind", kind, "reason", reason)
	}

	for _, kind := range set {
		switch kind {
		case model.RecipientMember:
			if strings.TrimSpace(m.Email) == "" {
				gap(kind, "member has no email")
				continue
			}
			add(kind, m.FullName(), m.Email)

		case model.RecipientPrimaryKin:
			var primary *model.NextOfKin
			for i := range kin {
				if kin[i].IsPrimary {
					primary = &kin[i]
					break
				}
			}
			switch {
			case primary == nil:
				gap(kind, "no primary next of kin")
			case strings.TrimSpace(primary.Email) == "":
				gap(kind, "primary next of kin has no email")
			default:
				add(kind, primary.Name, primary.Email)
			}

		case model.RecipientAllKin:
			found := false
			for _, k := range kin {
				if strings.TrimSpace(k.Email) == "" {
					continue
				}
				found = true
				add(kind, k.Name, k.Email)
			}
			if !found {
				gap(kind, "no next of kin with email")
			}

		default:
			gap(kind, "unknown recipient kind")
		}
	}
	return res
}
