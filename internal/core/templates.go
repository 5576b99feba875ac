package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/libinventory/internal/catalog"
)

// TemplateMatchThreshold is the minimum score for a template to be considered a match.
const TemplateMatchThreshold = 0.7

// ErrTemplateNameRequired is returned when a template is saved without a name.
var ErrTemplateNameRequired = errors.New("template name is required")

// TemplateMatch is a saved template that fits an upload's headers.
type TemplateMatch struct {
	Template   catalog.MappingTemplate `json:"template"`
	MatchScore float64                 `json:"matchScore"`
}

// CreateTemplate saves mapping under name together with the headers it
// was built for.
func (s *Service) CreateTemplate(ctx context.Context, name string, mapping ColumnMapping, headers []string) (*catalog.MappingTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrTemplateNameRequired
	}
	if err := mapping.Validate(headers); err != nil {
		return nil, err
	}

	saved, err := s.store.SaveTemplate(ctx, catalog.MappingTemplate{
		Name:    name,
		Mapping: mapping.ToMap(),
		Headers: append([]string(nil), headers...),
	})
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}

	s.LogAudit(ctx, AuditLogParams{Action: ActionTemplateCreate, Detail: saved.Name})
	return &saved, nil
}

// SaveSessionTemplate stores the current mapping of a session as a template.
func (s *Service) SaveSessionTemplate(ctx context.Context, sessionID, name string) (*catalog.MappingTemplate, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	mapping := sess.mapper.Mapping()
	headers := sess.mapper.Headers()
	sess.mu.Unlock()

	return s.CreateTemplate(ctx, name, mapping, headers)
}

// GetTemplate retrieves a template by ID.
func (s *Service) GetTemplate(ctx context.Context, id string) (*catalog.MappingTemplate, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// ListTemplates returns all saved templates.
func (s *Service) ListTemplates(ctx context.Context) ([]catalog.MappingTemplate, error) {
	ts, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return ts, nil
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	s.LogAudit(ctx, AuditLogParams{Action: ActionTemplateDelete, Detail: t.Name})
	return nil
}

// MatchTemplates finds templates that match the given headers, best first.
func (s *Service) MatchTemplates(ctx context.Context, headers []string) ([]TemplateMatch, error) {
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}

	var matches []TemplateMatch
	for _, t := range templates {
		score := matchTemplateHeaders(headers, t.Headers)
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{Template: t, MatchScore: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})

	return matches, nil
}

// matchTemplateHeaders is the fraction of template headers present in the
// upload, compared case-insensitively.
func matchTemplateHeaders(csvHeaders, templateHeaders []string) float64 {
	if len(templateHeaders) == 0 {
		return 0
	}

	csvSet := make(map[string]bool, len(csvHeaders))
	for _, h := range csvHeaders {
		csvSet[strings.ToLower(strings.TrimSpace(h))] = true
	}

	matched := 0
	for _, h := range templateHeaders {
		if csvSet[strings.ToLower(strings.TrimSpace(h))] {
			matched++
		}
	}

	return float64(matched) / float64(len(templateHeaders))
}

// templateMapping resolves a stored mapping against the headers of an
// upload. Stored headers are matched case-insensitively; fields whose header
// is absent stay unmapped.
func templateMapping(t *catalog.MappingTemplate, headers []string) ColumnMapping {
	byLower := make(map[string]string, len(headers))
	for _, h := range headers {
		byLower[strings.ToLower(strings.TrimSpace(h))] = h
	}

	m := UnmappedMapping()
	for key, stored := range t.Mapping {
		f, ok := ParseField(key)
		if !ok {
			continue
		}
		if h, ok := byLower[strings.ToLower(strings.TrimSpace(stored))]; ok {
			m.Set(f, h)
		}
	}
	return m
}
