package product

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned by store lookups when no product
	// matches the provided id/code.
	ErrNotFound = errors.New("product not found")

	// ErrAlreadyProcessing is returned by ClaimProcessing when the
	// product's processing flag is already raised by another run.
	ErrAlreadyProcessing = errors.New("product is already processing")
)

type (
	// Product represents one cataloged media item. The 'Code' is the
	// human-facing SKU and is immutable once set; it is the natural key
	// used to address products from the job/worker side.
	Product struct {
		ID           uuid.UUID      `db:"id" json:"id"`
		Code         string         `db:"code" json:"code"`
		Title        string         `db:"title" json:"title"`
		MainImageURL string         `db:"main_image_url" json:"mainImageUrl"`
		SubImageUrls pq.StringArray `db:"sub_image_urls" json:"subImageUrls"`
		Length       int            `db:"length" json:"length"`
		Genres       pq.StringArray `db:"genres" json:"genres"`
		Series       string         `db:"series" json:"series"`
		Maker        string         `db:"maker" json:"maker"`
		Casts        pq.StringArray `db:"casts" json:"casts"`
		DownloadURL  *string        `db:"download_url" json:"downloadUrl"`
		MediaUrls    pq.StringArray `db:"media_urls" json:"mediaUrls"`
		IsDownloaded bool           `db:"is_downloaded" json:"isDownloaded"`
		IsProcessing bool           `db:"is_processing" json:"isProcessing"`
		CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
		UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
	}

	// Changes is the partial-update surface exposed to the UI layer. Nil
	// fields are left untouched.
	Changes struct {
		Title       *string
		DownloadURL *string
		Casts       *[]string
	}

	// Filter controls the product listing query.
	Filter struct {
		IsDownloaded *bool
		IsProcessing *bool
		Limit        int
		Offset       int
	}
)

// HasDownloadSource reports whether the product carries a source reference
// that the acquisition pipeline can download from.
func (p *Product) HasDownloadSource() bool {
	return p.DownloadURL != nil && *p.DownloadURL != ""
}
