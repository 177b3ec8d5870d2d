// Package model holds the canonical entities produced by the gateway,
// independent of any single upstream provider's wire shape.
package model

import "time"

// PrivacyStatus marks whether an entity's address/personal data may be
// disclosed.
type PrivacyStatus string

const (
	PrivacyOpen      PrivacyStatus = "open"
	PrivacyProtected PrivacyStatus = "protected"
)

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Address is a postal address, redactable under PrivacyProtected.
type Address struct {
	Street     *string   `json:"street,omitempty"`
	PostalCode string    `json:"postal_code"`
	City       string    `json:"city"`
	Geo        *GeoPoint `json:"geo,omitempty"`
}

// LegalForm is a code/label pair for a company's legal form.
type LegalForm struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// PersonKind distinguishes natural persons from legal persons acting as
// executives.
type PersonKind string

const (
	PersonNatural PersonKind = "natural"
	PersonLegal   PersonKind = "legal"
)

// Executive is an officer of a BusinessEntity.
type Executive struct {
	Role        string     `json:"role"`
	Surname     string     `json:"surname"`
	GivenName   *string    `json:"given_name,omitempty"`
	BirthDate   *string    `json:"birth_date,omitempty"` // YYYY-MM or YYYY-MM-DD precision
	BirthPlace  *string    `json:"birth_place,omitempty"`
	Nationality *string    `json:"nationality,omitempty"`
	Kind        PersonKind `json:"kind"`
}

// Establishment is a physical site of a BusinessEntity.
type Establishment struct {
	EstablishmentKey string  `json:"establishment_key"`
	Headquarters     bool    `json:"headquarters"`
	Address          Address `json:"address"`
	SizeBucket       string  `json:"size_bucket,omitempty"`
	ActivityCode     string  `json:"activity_code,omitempty"`
}

// AnnouncementKind enumerates the single-letter BODACC-style tags.
type AnnouncementKind string

const (
	AnnouncementSale               AnnouncementKind = "A"
	AnnouncementCreation           AnnouncementKind = "B"
	AnnouncementCollectiveProc     AnnouncementKind = "C"
	AnnouncementAccountsFiling     AnnouncementKind = "D"
	AnnouncementCorrection         AnnouncementKind = "P"
)

// Announcement is a single legal-gazette entry.
type Announcement struct {
	ID              string           `json:"id"`
	Kind            AnnouncementKind `json:"kind"`
	PublicationDate string           `json:"publication_date"` // civil date YYYY-MM-DD
	Court           *string          `json:"court,omitempty"`
	BusinessKey     *string          `json:"business_key,omitempty"`
	Title           string           `json:"title"`
	Text            string           `json:"text"`
	PDFURL          *string          `json:"pdf_url,omitempty"`
}

// Competency is a code/label capability attached to a Certification.
type Competency struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// Certification is a quality/regulatory label held by a BusinessEntity.
type Certification struct {
	Type         string       `json:"type"`
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	Issuer       string       `json:"issuer"`
	ValidUntil   string       `json:"valid_until"` // civil date
	Valid        bool         `json:"valid"`
	Domain       string       `json:"domain"`
	Competencies []Competency `json:"competencies,omitempty"`
}

// Financials is a minimal financial summary; the scoring heuristics that
// consume it live outside this gateway (spec §1, out of scope).
type Financials struct {
	Year           int     `json:"year"`
	Revenue        *float64 `json:"revenue,omitempty"`
	NetIncome      *float64 `json:"net_income,omitempty"`
	EmployeeCount  *int     `json:"employee_count,omitempty"`
}

// DocumentKind enumerates the downloadable document kinds of spec §6.
type DocumentKind string

const (
	DocumentAct         DocumentKind = "act"
	DocumentAccounts    DocumentKind = "accounts"
	DocumentStatutes    DocumentKind = "statutes"
	DocumentExtract     DocumentKind = "extract"
	DocumentFiscalCert  DocumentKind = "fiscal_cert"
	DocumentSocialCert  DocumentKind = "social_cert"
)

// Document is a single downloadable file, either inlined as bytes or
// referenced by a temporary URL.
type Document struct {
	BusinessKey string       `json:"business_key"`
	Kind        DocumentKind `json:"kind"`
	Year        *int         `json:"year,omitempty"`
	Content     []byte       `json:"content,omitempty"`
	URL         *string      `json:"url,omitempty"`
	URLExpiry   *time.Time   `json:"url_expiry,omitempty"`
	SizeBytes   int64        `json:"size_bytes"`
	MimeType    string       `json:"mime_type"`
	Origin      string       `json:"origin"`
}

// BusinessEntity is the canonical, fused company/association record.
type BusinessEntity struct {
	BusinessKey       string          `json:"business_key"`
	EstablishmentKey  *string         `json:"establishment_key,omitempty"`
	DisplayName       string          `json:"display_name"`
	LegalForm         *LegalForm      `json:"legal_form,omitempty"`
	ActivityCode      string          `json:"activity_code,omitempty"`
	SizeBucket        string          `json:"size_bucket,omitempty"`
	CreationDate      *string         `json:"creation_date,omitempty"`
	CessationDate     *string         `json:"cessation_date,omitempty"`
	Active            bool            `json:"active"`
	Privacy           PrivacyStatus   `json:"privacy"`
	Executives        []Executive     `json:"executives,omitempty"`
	Establishments    []Establishment `json:"establishments,omitempty"`
	Financials        []Financials    `json:"financials,omitempty"`
	Certifications    []Certification `json:"certifications,omitempty"`
	Documents         []Document      `json:"documents,omitempty"`
	Address           *Address        `json:"address,omitempty"`
	Sources           []string        `json:"sources,omitempty"`
	LastUpdated       time.Time       `json:"last_updated"`
	PrivacyNotice     *string         `json:"privacy_notice,omitempty"`
}

// HeadquartersEstablishment returns the single establishment flagged as
// headquarters, if any. Invariant (spec §3): at most one such record exists.
func (b *BusinessEntity) HeadquartersEstablishment() *Establishment {
	for i := range b.Establishments {
		if b.Establishments[i].Headquarters {
			return &b.Establishments[i]
		}
	}
	return nil
}

// TokenKind distinguishes the credential shapes of spec §4.1.
type TokenKind string

const (
	TokenClientCredentials TokenKind = "client_credentials"
	TokenPasswordBearer    TokenKind = "password_bearer"
	TokenStaticBearer      TokenKind = "static_bearer"
)

// Token is an opaque, expiry-tracked credential held by the Credential
// Store.
type Token struct {
	Value        string
	RefreshToken string
	TokenType    string
	ExpiresAt    *time.Time
	Kind         TokenKind
}

// Expired reports whether the token is within skew of its expiry, or past
// it. A nil expiry never expires (spec §4.1: static bearer defaults to a
// 6-month expiry rather than "never", so callers should always populate
// ExpiresAt; nil is treated as not-yet-known and therefore not expired).
func (t *Token) Expired(now time.Time, skew time.Duration) bool {
	if t == nil || t.ExpiresAt == nil {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-skew))
}

// CacheEntry is an opaque cached value with an absolute expiry.
type CacheEntry struct {
	Value  []byte    `json:"value"`
	Expiry time.Time `json:"expiry"`
}

// AuditEntry is a single, immutable audit-ledger record (spec §3, §4.12).
type AuditEntry struct {
	ID             string                 `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	Tool           string                 `json:"tool"`
	Operation      string                 `json:"operation"`
	BusinessKey    string                 `json:"business_key,omitempty"`
	CallerID       string                 `json:"caller_id"`
	IP             string                 `json:"ip,omitempty"`
	ResponseTimeMs int64                  `json:"response_time_ms"`
	StatusCode     int                    `json:"status_code"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ProfileMetadata accompanies a fused BusinessEntity response (spec §4.9
// step 9, §6 get_entity_profile).
type ProfileMetadata struct {
	Sources         []string  `json:"sources"`
	ResponseTimeMs  int64     `json:"response_time_ms"`
	DataFreshness   time.Time `json:"data_freshness"`
	Completeness    float64   `json:"completeness"`
}
