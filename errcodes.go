package stoat

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Reserved domain prefixes. Application domains use prefixes from MinDomainPrefix up.
const (
	InfrastructurePrefix uint16 = 0
	GenericPrefix        uint16 = 1
	MinDomainPrefix      uint16 = 10
)

// ErrorCode is one row of the error catalog.
type ErrorCode struct {
	Domain     string
	Prefix     uint16
	Index      uint16
	HTTPStatus int
	Name       string
}

// InternalCode returns prefix*1000+index.
func (c ErrorCode) InternalCode() int {
	return int(c.Prefix)*1000 + int(c.Index)
}

// Code returns the wire code string, e.g. "GENERIC_NOT_FOUND".
func (c ErrorCode) Code() string {
	return strings.ToUpper(c.Domain) + "_" + strings.ToUpper(c.Name)
}

// New returns an error with this code and message.
func (c ErrorCode) New(message string) *CqrsError {
	return &CqrsError{
		Domain:       c.Domain,
		Code:         c.Code(),
		InternalCode: c.InternalCode(),
		Status:       c.HTTPStatus,
		Message:      message,
		Kind:         KindDomain,
	}
}

// Newf is New with a format string.
func (c ErrorCode) Newf(format string, args ...any) *CqrsError {
	return c.New(fmt.Sprintf(format, args...))
}

// String implements fmt.Stringer.
func (c ErrorCode) String() string {
	return fmt.Sprintf("[%d] %s", c.InternalCode(), c.Code())
}

// CodeSpec describes a code when defining a domain.
type CodeSpec struct {
	Index      uint16
	Name       string
	HTTPStatus int
}

// Infrastructure error codes (prefix 0).
var (
	InfraInternalError      = ErrorCode{"infrastructure", 0, 0, http.StatusInternalServerError, "INTERNAL_ERROR"}
	InfraValidationFailed   = ErrorCode{"infrastructure", 0, 1, http.StatusBadRequest, "VALIDATION_FAILED"}
	InfraNotFound           = ErrorCode{"infrastructure", 0, 2, http.StatusNotFound, "NOT_FOUND"}
	InfraConflict           = ErrorCode{"infrastructure", 0, 3, http.StatusConflict, "CONFLICT"}
	InfraUnauthorized       = ErrorCode{"infrastructure", 0, 4, http.StatusUnauthorized, "UNAUTHORIZED"}
	InfraForbidden          = ErrorCode{"infrastructure", 0, 5, http.StatusForbidden, "FORBIDDEN"}
	InfraGone               = ErrorCode{"infrastructure", 0, 6, http.StatusGone, "GONE"}
	InfraDatabaseError      = ErrorCode{"infrastructure", 0, 10, http.StatusInternalServerError, "DATABASE_ERROR"}
	InfraSerializationError = ErrorCode{"infrastructure", 0, 11, http.StatusInternalServerError, "SERIALIZATION_ERROR"}
	InfraAggregateNotFound  = ErrorCode{"infrastructure", 0, 12, http.StatusNotFound, "AGGREGATE_NOT_FOUND"}
	InfraConcurrencyError   = ErrorCode{"infrastructure", 0, 13, http.StatusConflict, "CONCURRENCY_ERROR"}
	InfraDomainError        = ErrorCode{"infrastructure", 0, 14, http.StatusBadRequest, "DOMAIN_ERROR"}
	InfraCqrsInternalError  = ErrorCode{"infrastructure", 0, 15, http.StatusInternalServerError, "CQRS_INTERNAL_ERROR"}
	InfraConfigurationError = ErrorCode{"infrastructure", 0, 16, http.StatusInternalServerError, "CONFIGURATION_ERROR"}
	InfraStorageUnavailable = ErrorCode{"infrastructure", 0, 17, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"}
	InfraDataCorruption     = ErrorCode{"infrastructure", 0, 18, http.StatusInternalServerError, "DATA_CORRUPTION"}
	InfraUnknown            = ErrorCode{"infrastructure", 0, 99, http.StatusInternalServerError, "UNKNOWN"}
)

// Generic error codes (prefix 1), for application code that has no domain of its own.
var (
	GenericInternalError    = ErrorCode{"generic", 1, 0, http.StatusInternalServerError, "INTERNAL_ERROR"}
	GenericValidationFailed = ErrorCode{"generic", 1, 1, http.StatusBadRequest, "VALIDATION_FAILED"}
	GenericNotFound         = ErrorCode{"generic", 1, 2, http.StatusNotFound, "NOT_FOUND"}
	GenericConflict         = ErrorCode{"generic", 1, 3, http.StatusConflict, "CONFLICT"}
	GenericUnauthorized     = ErrorCode{"generic", 1, 4, http.StatusUnauthorized, "UNAUTHORIZED"}
	GenericForbidden        = ErrorCode{"generic", 1, 5, http.StatusForbidden, "FORBIDDEN"}
	GenericGone             = ErrorCode{"generic", 1, 6, http.StatusGone, "GONE"}
)

// FromHTTPStatus maps an HTTP status to a generic code.
func FromHTTPStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return GenericValidationFailed
	case http.StatusUnauthorized:
		return GenericUnauthorized
	case http.StatusForbidden:
		return GenericForbidden
	case http.StatusNotFound:
		return GenericNotFound
	case http.StatusConflict:
		return GenericConflict
	case http.StatusGone:
		return GenericGone
	default:
		return GenericInternalError
	}
}

// Domain is a registered application error domain.
type Domain struct {
	Name   string
	Prefix uint16
	codes  map[string]ErrorCode
}

// Code returns the named code. It panics on unknown names, which are programming errors.
func (d *Domain) Code(name string) ErrorCode {
	c, ok := d.codes[strings.ToUpper(name)]
	if !ok {
		panic(fmt.Sprintf("stoat: domain %q has no error code %q", d.Name, name))
	}
	return c
}

// Codes returns the domain's codes ordered by index.
func (d *Domain) Codes() []ErrorCode {
	out := make([]ErrorCode, 0, len(d.codes))
	for _, c := range d.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

type catalog struct {
	mu      sync.RWMutex
	domains map[string]*Domain
	used    map[int]ErrorCode
}

var registry = newCatalog()

func newCatalog() *catalog {
	c := &catalog{
		domains: make(map[string]*Domain),
		used:    make(map[int]ErrorCode),
	}
	infra := []ErrorCode{
		InfraInternalError, InfraValidationFailed, InfraNotFound, InfraConflict,
		InfraUnauthorized, InfraForbidden, InfraGone, InfraDatabaseError,
		InfraSerializationError, InfraAggregateNotFound, InfraConcurrencyError,
		InfraDomainError, InfraCqrsInternalError, InfraConfigurationError,
		InfraStorageUnavailable, InfraDataCorruption, InfraUnknown,
	}
	generic := []ErrorCode{
		GenericInternalError, GenericValidationFailed, GenericNotFound, GenericConflict,
		GenericUnauthorized, GenericForbidden, GenericGone,
	}
	c.install("infrastructure", InfrastructurePrefix, infra)
	c.install("generic", GenericPrefix, generic)
	return c
}

func (c *catalog) install(name string, prefix uint16, codes []ErrorCode) *Domain {
	d := &Domain{Name: name, Prefix: prefix, codes: make(map[string]ErrorCode, len(codes))}
	for _, code := range codes {
		d.codes[code.Name] = code
		c.used[code.InternalCode()] = code
	}
	c.domains[name] = d
	return d
}

// DefineDomain registers an application error domain.
// The prefix must be at least MinDomainPrefix and unused, indices must be
// below 1000, and names and (prefix, index) pairs must be unique.
func DefineDomain(name string, prefix uint16, specs ...CodeSpec) (*Domain, error) {
	return registry.define(name, prefix, specs)
}

// MustDefineDomain is DefineDomain that panics on error, for package-level vars.
func MustDefineDomain(name string, prefix uint16, specs ...CodeSpec) *Domain {
	d, err := DefineDomain(name, prefix, specs...)
	if err != nil {
		panic(err)
	}
	return d
}

func (c *catalog) define(name string, prefix uint16, specs []CodeSpec) (*Domain, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("stoat: domain name is required")
	}
	if prefix < MinDomainPrefix {
		return nil, fmt.Errorf("stoat: domain %q: prefix %d is reserved", name, prefix)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.domains[name]; ok {
		return nil, fmt.Errorf("stoat: domain %q already defined", name)
	}
	for _, d := range c.domains {
		if d.Prefix == prefix {
			return nil, fmt.Errorf("stoat: domain %q: prefix %d already used by %q", name, prefix, d.Name)
		}
	}

	codes := make([]ErrorCode, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	indices := make(map[uint16]bool, len(specs))
	for _, s := range specs {
		upper := strings.ToUpper(s.Name)
		switch {
		case upper == "":
			return nil, fmt.Errorf("stoat: domain %q: code %d has no name", name, s.Index)
		case s.Index >= 1000:
			return nil, fmt.Errorf("stoat: domain %q: index %d out of range", name, s.Index)
		case seen[upper]:
			return nil, fmt.Errorf("stoat: domain %q: duplicate code name %q", name, upper)
		case indices[s.Index]:
			return nil, fmt.Errorf("stoat: domain %q: duplicate index %d", name, s.Index)
		}
		seen[upper] = true
		indices[s.Index] = true

		status := s.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := ErrorCode{Domain: name, Prefix: prefix, Index: s.Index, HTTPStatus: status, Name: upper}
		if prev, ok := c.used[code.InternalCode()]; ok {
			return nil, fmt.Errorf("stoat: internal code %d already used by %s", code.InternalCode(), prev.Code())
		}
		codes = append(codes, code)
	}

	return c.install(name, prefix, codes), nil
}

// LookupCode finds a registered code by its internal code.
func LookupCode(internalCode int) (ErrorCode, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	c, ok := registry.used[internalCode]
	return c, ok
}

// Catalog returns every registered code ordered by internal code.
func Catalog() []ErrorCode {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	out := make([]ErrorCode, 0, len(registry.used))
	for _, c := range registry.used {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InternalCode() < out[j].InternalCode() })
	return out
}
