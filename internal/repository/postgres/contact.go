package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/repository"
)

type contactRepository struct {
	*BaseRepository
}

func NewContactRepository(base *BaseRepository) repository.ContactRepository {
	return &contactRepository{BaseRepository: base}
}

// ListLicenceHolders returns the licence-holder postal contact for each of
// the given licence references. One contact row per licence; callers dedupe
// by contact identity.
func (r *contactRepository) ListLicenceHolders(ctx context.Context, licenceRefs []string) ([]*model.Contact, error) {
	if len(licenceRefs) == 0 {
		return nil, nil
	}

	query := `
		SELECT licence_ref, name,
			   address_line_1, address_line_2, address_line_3, address_line_4,
			   town, county, postcode, country
		FROM licence_holder_contacts
		WHERE licence_ref = ANY($1)
		ORDER BY licence_ref
	`
	var contacts []*model.Contact
	if err := r.db.SelectContext(ctx, &contacts, query, pq.Array(licenceRefs)); err != nil {
		return nil, fmt.Errorf("failed to list licence holder contacts: %w", err)
	}
	return contacts, nil
}
