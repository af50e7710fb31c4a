package portal

import (
	"errors"
	"strings"
	"time"
)

// Role distinguishes the two kinds of authenticated principals.
type Role string

const (
	RoleOfficial Role = "official"
	RoleResident Role = "resident"
)

// ResidentStatus is the lifecycle status of a resident profile. New signups
// stay in Pending Approval until an official acts on them.
type ResidentStatus string

const (
	ResidentStatusPending ResidentStatus = "Pending Approval"
	ResidentStatusActive  ResidentStatus = "Active"
)

// RequestStatus is the lifecycle status of a certificate request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "Pending"
	RequestStatusApproved RequestStatus = "Approved"
	RequestStatusDenied   RequestStatus = "Denied"
)

// Terminal reports whether no further transition is defined from s.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusDenied
}

// CertificateType names a document the barangay issues.
type CertificateType string

const (
	CertBarangayClearance CertificateType = "Barangay Clearance"
	CertIndigency         CertificateType = "Certificate of Indigency"
	CertResidency         CertificateType = "Certificate of Residency"
	CertLowIncome         CertificateType = "Certificate of Low Income"
	CertOathOfUndertaking CertificateType = "Oath of Undertaking"
	CertBusinessPermit    CertificateType = "Business Permit"
)

// CertificateTypes lists every issuable certificate type.
func CertificateTypes() []CertificateType {
	return []CertificateType{
		CertBarangayClearance,
		CertIndigency,
		CertResidency,
		CertLowIncome,
		CertOathOfUndertaking,
		CertBusinessPermit,
	}
}

// ValidCertificateType reports whether t names a known certificate.
func ValidCertificateType(t CertificateType) bool {
	for _, known := range CertificateTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Resident is a resident profile. The canonical copy lives in the external
// store; coordinator snapshots are a cache.
type Resident struct {
	ID         string         `json:"id"`
	IdentityID string         `json:"identity_id"`
	LastName   string         `json:"last_name"`
	FirstName  string         `json:"first_name"`
	MiddleName string         `json:"middle_name,omitempty"`
	Age        int            `json:"age"`
	Address    string         `json:"address"`
	Contact    string         `json:"contact"`
	Email      string         `json:"email"`
	Status     ResidentStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// FullName renders "First Middle Last" skipping an absent middle name.
func (r Resident) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.FirstName, r.MiddleName, r.LastName} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, " ")
}

// CertificateRequest is a resident's application for a certificate.
// Invariant: DateProcessed is set exactly when Status is not Pending.
type CertificateRequest struct {
	ID              string          `json:"id"`
	ResidentID      string          `json:"resident_id"`
	ResidentName    string          `json:"resident_name"`
	CertificateType CertificateType `json:"certificate_type"`
	Purpose         string          `json:"purpose"`
	Notes           string          `json:"notes,omitempty"`
	ValidIDFile     string          `json:"valid_id_file,omitempty"`
	Status          RequestStatus   `json:"status"`
	DateRequested   time.Time       `json:"date_requested"`
	DateProcessed   *time.Time      `json:"date_processed,omitempty"`
}

// StatusHistoryEntry is one append-only record of a request transition.
// Entries are immutable once written and ordered by creation time.
type StatusHistoryEntry struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id"`
	Status    RequestStatus `json:"status"`
	Note      string        `json:"note,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Notification kinds shown on the officials dashboard.
const (
	NotificationPending  = "pending"
	NotificationApproved = "approved"
	NotificationInfo     = "info"
)

// Notification is an ephemeral, locally synthesized feed item. It is never
// persisted server-side.
type Notification struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Kind        string    `json:"kind"`
	Read        bool      `json:"read"`
	RequestID   string    `json:"request_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Official is a barangay staff record.
type Official struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Principal is the resolved identity of a signed-in user. Exactly one of
// Official or Resident is set, matching Role.
type Principal struct {
	Identity string    `json:"identity"`
	Role     Role      `json:"role"`
	Official *Official `json:"official,omitempty"`
	Resident *Resident `json:"resident,omitempty"`
}

// DisplayName returns the name to show for the principal.
func (p Principal) DisplayName() string {
	switch p.Role {
	case RoleOfficial:
		if p.Official != nil {
			return p.Official.Name
		}
	case RoleResident:
		if p.Resident != nil {
			return p.Resident.FullName()
		}
	}
	return ""
}

var (
	ErrNotFound       = errors.New("portal: not found")
	ErrInvalidInput   = errors.New("portal: invalid input")
	ErrTerminalStatus = errors.New("portal: request already processed")
)
