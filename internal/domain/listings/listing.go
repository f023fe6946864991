package listings

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrIDRequired    = errors.New("listings: id is required")
	ErrOwnerRequired = errors.New("listings: owner is required")
	ErrNotFound      = errors.New("listings: not found")
	ErrNotOwner      = errors.New("listings: listing belongs to another user")
)

type Address struct {
	Line1   string
	City    string
	Eircode string
	Lat     float64
	Lon     float64
}

// Listing is the shared resource conversations attach to. Descriptive fields are
// owned by the listing-management flow; the engine only reads ID, Owner and Images.
type Listing struct {
	ID            string
	Owner         string
	Title         string
	Address       Address
	RentCents     int64
	AvailableFrom time.Time
	AvailableTo   time.Time
	Images        []string
	CreatedAt     time.Time
}

func (l *Listing) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return ErrIDRequired
	}
	if strings.TrimSpace(l.Owner) == "" {
		return ErrOwnerRequired
	}
	return nil
}

func (l *Listing) OwnedBy(uid string) bool {
	return l.Owner == uid
}

func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	out := *l
	out.Images = append([]string(nil), l.Images...)
	return &out
}
