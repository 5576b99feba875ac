package core

import "strings"

// ColumnMapping binds each schema field to a source header or Unmapped.
type ColumnMapping struct {
	Title          string `json:"title"`
	Composer       string `json:"composer"`
	Voicing        string `json:"voicing"`
	LibraryNumber  string `json:"libraryNumber"`
	PhysicalCopies string `json:"physicalCopies"`
}

// UnmappedMapping returns a mapping with every field unbound.
func UnmappedMapping() ColumnMapping {
	return ColumnMapping{
		Title:          Unmapped,
		Composer:       Unmapped,
		Voicing:        Unmapped,
		LibraryNumber:  Unmapped,
		PhysicalCopies: Unmapped,
	}
}

// Header returns the source header bound to f.
func (m ColumnMapping) Header(f Field) string {
	switch f {
	case FieldTitle:
		return m.Title
	case FieldComposer:
		return m.Composer
	case FieldVoicing:
		return m.Voicing
	case FieldLibraryNumber:
		return m.LibraryNumber
	case FieldPhysicalCopies:
		return m.PhysicalCopies
	}
	return ""
}

// Set binds f to header. An empty header means Unmapped.
func (m *ColumnMapping) Set(f Field, header string) {
	if strings.TrimSpace(header) == "" {
		header = Unmapped
	}
	switch f {
	case FieldTitle:
		m.Title = header
	case FieldComposer:
		m.Composer = header
	case FieldVoicing:
		m.Voicing = header
	case FieldLibraryNumber:
		m.LibraryNumber = header
	case FieldPhysicalCopies:
		m.PhysicalCopies = header
	}
}

// ToMap flattens the mapping for storage, skipping unbound fields.
func (m ColumnMapping) ToMap() map[string]string {
	out := make(map[string]string, len(Fields))
	for _, f := range Fields {
		if h := m.Header(f); isBound(h) {
			out[string(f)] = h
		}
	}
	return out
}

// MappingFromMap is the inverse of ToMap. Unknown keys are ignored.
func MappingFromMap(in map[string]string) ColumnMapping {
	m := UnmappedMapping()
	for k, h := range in {
		if f, ok := ParseField(k); ok {
			m.Set(f, h)
		}
	}
	return m
}

// Extract pulls the trimmed field values out of row. Unbound fields and
// headers missing from the row extract as "".
func (m ColumnMapping) Extract(row RawRow) RowValues {
	get := func(f Field) string {
		h := m.Header(f)
		if !isBound(h) {
			return ""
		}
		return strings.TrimSpace(row.Values[h])
	}
	return RowValues{
		Title:          get(FieldTitle),
		Composer:       get(FieldComposer),
		Voicing:        get(FieldVoicing),
		LibraryNumber:  get(FieldLibraryNumber),
		PhysicalCopies: get(FieldPhysicalCopies),
	}
}

// Validate checks that every required field is bound to one of headers.
func (m ColumnMapping) Validate(headers []string) error {
	known := headerSet(headers)
	var missing []Field
	for _, f := range Fields {
		if f.Required() && !known[m.Header(f)] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &MappingError{Missing: missing}
	}
	return nil
}

func isBound(header string) bool {
	return header != "" && header != Unmapped
}

func headerSet(headers []string) map[string]bool {
	set := make(map[string]bool, len(headers))
	for _, h := range headers {
		if isBound(h) {
			set[h] = true
		}
	}
	return set
}

// ColumnMapper is the mutable mapping edited during the wizard's mapping
// step. Assignments are not validated until IsValid or Freeze.
type ColumnMapper struct {
	headers []string
	mapping ColumnMapping
}

// NewColumnMapper starts with every field unmapped.
func NewColumnMapper(headers []string) *ColumnMapper {
	return &ColumnMapper{
		headers: append([]string(nil), headers...),
		mapping: UnmappedMapping(),
	}
}

// Headers returns the source headers available for binding.
func (m *ColumnMapper) Headers() []string {
	return append([]string(nil), m.headers...)
}

// Assign binds field to header, or unbinds it when header is Unmapped or "".
func (m *ColumnMapper) Assign(field Field, header string) {
	m.mapping.Set(field, header)
}

// Apply replaces every binding with those in mapping.
func (m *ColumnMapper) Apply(mapping ColumnMapping) {
	for _, f := range Fields {
		m.mapping.Set(f, mapping.Header(f))
	}
}

// Mapping returns the current bindings.
func (m *ColumnMapper) Mapping() ColumnMapping {
	return m.mapping
}

// IsValid reports whether title and physical copies are bound to real headers.
func (m *ColumnMapper) IsValid() bool {
	return m.mapping.Validate(m.headers) == nil
}

// Missing lists required fields that are not bound to a real header.
func (m *ColumnMapper) Missing() []Field {
	if err := m.mapping.Validate(m.headers); err != nil {
		return err.(*MappingError).Missing
	}
	return nil
}

// Freeze returns an immutable copy of a valid mapping.
func (m *ColumnMapper) Freeze() (ColumnMapping, error) {
	if err := m.mapping.Validate(m.headers); err != nil {
		return ColumnMapping{}, err
	}
	return m.mapping, nil
}

// headerAliases maps normalized header spellings to schema fields.
var headerAliases = map[string]Field{
	"title":               FieldTitle,
	"name":                FieldTitle,
	"song":                FieldTitle,
	"piece":               FieldTitle,
	"composer":            FieldComposer,
	"author":              FieldComposer,
	"arranger":            FieldComposer,
	"voicing":             FieldVoicing,
	"voiceparts":          FieldVoicing,
	"voices":              FieldVoicing,
	"librarynumber":       FieldLibraryNumber,
	"libraryno":           FieldLibraryNumber,
	"location":            FieldLibraryNumber,
	"librarylocation":     FieldLibraryNumber,
	"shelf":               FieldLibraryNumber,
	"physicalcopies":      FieldPhysicalCopies,
	"copies":              FieldPhysicalCopies,
	"hardcopies":          FieldPhysicalCopies,
	"hardcopiescount":     FieldPhysicalCopies,
	"quantity":            FieldPhysicalCopies,
	"qty":                 FieldPhysicalCopies,
	"physicalcopiescount": FieldPhysicalCopies,
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "", ".", "", "#", "").Replace(h)
}

// AutoMap binds still-unmapped fields to headers whose normalized spelling
// is a known alias. The first matching header wins. It returns the number
// of fields it bound.
func (m *ColumnMapper) AutoMap() int {
	bound := 0
	for _, h := range m.headers {
		f, ok := headerAliases[normalizeHeader(h)]
		if !ok || isBound(m.mapping.Header(f)) {
			continue
		}
		m.mapping.Set(f, h)
		bound++
	}
	return bound
}
