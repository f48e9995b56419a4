// Package model defines domain entities used by services and storage layers.
package model

// Role is the authorization level of an identity.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// Movie is a catalog entry. Base movies come from the bundled seed; edited and
// added movies are persisted as overrides with the same shape.
type Movie struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	Year        int     `json:"year"`
	Description string  `json:"description,omitempty"`
	ImageURL    string  `json:"imageUrl,omitempty"`
	Rating      float64 `json:"rating"`
	Available   bool    `json:"available"`
}

// MovieID extracts the overlay identifier of a movie.
func MovieID(m Movie) string { return m.ID }

// WithMovieID returns a copy of m carrying id.
func WithMovieID(m Movie, id string) Movie {
	m.ID = id
	return m
}

// Credential is a login identity. Seed credentials carry a plaintext
// Password; registered ones carry Salt and PasswordHash produced by Scheme.
type Credential struct {
	Username     string `json:"username"`
	Role         Role   `json:"role"`
	Password     string `json:"password,omitempty"`     // legacy plaintext
	Salt         string `json:"salt,omitempty"`         // hex
	PasswordHash string `json:"passwordHash,omitempty"` // hex
	Scheme       string `json:"scheme,omitempty"`       // empty with hash means sha256
}

// HashBacked reports whether the credential verifies via salt+hash.
func (c Credential) HashBacked() bool { return c.Salt != "" && c.PasswordHash != "" }

// Session is the identity active in one execution context.
type Session struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether the session holds the admin role.
func (s *Session) IsAdmin() bool { return s != nil && s.Role == RoleAdmin }

// UserSource tells where a public user entry comes from.
type UserSource string

const (
	SourceInitial UserSource = "initial"
	SourceStored  UserSource = "stored"
)

// PublicUser is a credential stripped of its secret.
type PublicUser struct {
	Username string     `json:"username"`
	Role     Role       `json:"role"`
	Source   UserSource `json:"source"`
}

// RentalStatus is the lifecycle state of a rental.
type RentalStatus string

const (
	RentalActive   RentalStatus = "Active"
	RentalReturned RentalStatus = "Returned"
	RentalLate     RentalStatus = "Late"
)

// Valid reports whether s is a known status.
func (s RentalStatus) Valid() bool {
	switch s {
	case RentalActive, RentalReturned, RentalLate:
		return true
	}
	return false
}

// Rental is a single ledger entry. Dates are calendar dates (YYYY-MM-DD);
// ReturnDate is empty while the movie is out.
type Rental struct {
	ID           string       `json:"id"`
	CustomerName string       `json:"customerName"`
	MovieTitle   string       `json:"movieTitle"`
	RentDate     string       `json:"rentDate"`
	ReturnDate   string       `json:"returnDate"`
	Status       RentalStatus `json:"status"`
}

// RentalPatch carries the fields to change on a rental; nil means unchanged.
type RentalPatch struct {
	CustomerName *string       `json:"customerName,omitempty"`
	MovieTitle   *string       `json:"movieTitle,omitempty"`
	RentDate     *string       `json:"rentDate,omitempty"`
	ReturnDate   *string       `json:"returnDate,omitempty"`
	Status       *RentalStatus `json:"status,omitempty"`
}
