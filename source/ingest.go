package source

import (
	"context"
	"fmt"
	"log"

	"auctionwatch/models"
)

// ListingWriter persists fetched listings; satisfied by storage.PostgresStore.
type ListingWriter interface {
	UpsertListing(ctx context.Context, l *models.Listing) error
}

// Fetcher pulls current listings for one state.
type Fetcher interface {
	FetchState(state string) ([]models.Listing, error)
}

// Ingestor refreshes the listings table from an external source. The change
// detector only ever reads the table, so ingestion and detection stay
// decoupled.
type Ingestor struct {
	fetcher Fetcher
	store   ListingWriter
	states  []string
}

func NewIngestor(fetcher Fetcher, store ListingWriter, states []string) *Ingestor {
	return &Ingestor{fetcher: fetcher, store: store, states: states}
}

// Run fetches and upserts every configured state. A failing state does not
// stop the others.
func (i *Ingestor) Run(ctx context.Context) error {
	if len(i.states) == 0 {
		return fmt.Errorf("no ingest states configured")
	}

	var failed int
	for _, state := range i.states {
		if err := ctx.Err(); err != nil {
			return err
		}

		listings, err := i.fetcher.FetchState(state)
		if err != nil {
			log.Printf("Ingest: fetch %s: %v", state, err)
			failed++
			continue
		}

		stored := 0
		for idx := range listings {
			if err := i.store.UpsertListing(ctx, &listings[idx]); err != nil {
				log.Printf("Ingest: upsert %s: %v", listings[idx].ID, err)
				continue
			}
			stored++
		}
		log.Printf("Ingest: %s done, %d/%d listings stored", state, stored, len(listings))
	}

	if failed == len(i.states) {
		return fmt.Errorf("ingest failed for all %d states", failed)
	}
	return nil
}
