package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// CitationConfig points at the external CSL rendering service.
type CitationConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

// CitationService builds CSL-JSON in process and delegates formatted output to the rendering service.
type CitationService struct {
	client     *http.Client
	serviceURL string
	logger     *zap.Logger
}

// NewCitationService constructs the collaborator. An empty ServiceURL disables rendered formats.
func NewCitationService(cfg CitationConfig, logger *zap.Logger) *CitationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CitationService{
		client:     &http.Client{Timeout: cfg.Timeout},
		serviceURL: strings.TrimRight(cfg.ServiceURL, "/"),
		logger:     logger,
	}
}

// Enabled reports whether rendered formats are available.
func (s *CitationService) Enabled() bool {
	return s != nil && s.serviceURL != ""
}

var cslTypes = map[string]string{
	"artwork":          "graphic",
	"book":             "book",
	"bookSection":      "chapter",
	"conferencePaper":  "paper-conference",
	"document":         "document",
	"film":             "motion_picture",
	"journalArticle":   "article-journal",
	"letter":           "personal_communication",
	"magazineArticle":  "article-magazine",
	"manuscript":       "manuscript",
	"newspaperArticle": "article-newspaper",
	"report":           "report",
	"thesis":           "thesis",
	"webpage":          "webpage",
}

var cslFields = map[string]string{
	"title":            "title",
	"abstractNote":     "abstract",
	"publicationTitle": "container-title",
	"bookTitle":        "container-title",
	"proceedingsTitle": "container-title",
	"websiteTitle":     "container-title",
	"volume":           "volume",
	"issue":            "issue",
	"pages":            "page",
	"numPages":         "number-of-pages",
	"edition":          "edition",
	"publisher":        "publisher",
	"institution":      "publisher",
	"university":       "publisher",
	"place":            "publisher-place",
	"DOI":              "DOI",
	"ISBN":             "ISBN",
	"ISSN":             "ISSN",
	"url":              "URL",
	"language":         "language",
	"shortTitle":       "title-short",
	"series":           "collection-title",
	"callNumber":       "call-number",
}

var cslCreatorRoles = map[string]string{
	"author":       "author",
	"artist":       "author",
	"director":     "director",
	"editor":       "editor",
	"seriesEditor": "collection-editor",
	"translator":   "translator",
	"bookAuthor":   "container-author",
	"recipient":    "recipient",
}

// CSLJSON converts an item into a CSL-JSON record.
func CSLJSON(item *models.Object) map[string]interface{} {
	record := map[string]interface{}{
		"id": item.Library.String() + "/" + item.Key,
	}
	cslType, ok := cslTypes[item.Data.ItemType]
	if !ok {
		cslType = "article"
	}
	record["type"] = cslType
	for field, value := range item.Data.Fields {
		if target, ok := cslFields[field]; ok && value != "" {
			record[target] = value
		}
	}
	for _, c := range item.Data.Creators {
		role, ok := cslCreatorRoles[c.CreatorType]
		if !ok {
			continue
		}
		name := map[string]string{}
		if c.Name != "" {
			name["literal"] = c.Name
		} else {
			name["family"] = c.LastName
			name["given"] = c.FirstName
		}
		list, _ := record[role].([]map[string]string)
		record[role] = append(list, name)
	}
	if date := parsedDate(item); date != "" {
		var parts []interface{}
		for _, p := range strings.Split(date, "-") {
			n, err := strconv.Atoi(p)
			if err != nil {
				break
			}
			parts = append(parts, n)
		}
		record["issued"] = map[string]interface{}{"date-parts": [][]interface{}{parts}}
	}
	return record
}

type renderRequest struct {
	Format string                   `json:"format"`
	Style  string                   `json:"style,omitempty"`
	Locale string                   `json:"locale,omitempty"`
	Items  []map[string]interface{} `json:"items"`
}

type renderResponse struct {
	Output string            `json:"output"`
	Items  map[string]string `json:"items"`
}

// Export renders items as a whole document in a citation format.
func (s *CitationService) Export(ctx context.Context, format dto.Format, style, locale string, items []*models.Object) (string, error) {
	resp, err := s.render(ctx, string(format), style, locale, items)
	if err != nil {
		return "", err
	}
	return resp.Output, nil
}

// RenderEach renders include=bib or include=citation per item, keyed by item key.
func (s *CitationService) RenderEach(ctx context.Context, include, style, locale string, items []*models.Object) (map[string]string, error) {
	resp, err := s.render(ctx, include, style, locale, items)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		out[item.Key] = resp.Items[item.Library.String()+"/"+item.Key]
	}
	return out, nil
}

func (s *CitationService) render(ctx context.Context, format, style, locale string, items []*models.Object) (*renderResponse, error) {
	if !s.Enabled() {
		return nil, appErrors.Clone(appErrors.ErrNotImplemented, "Citation rendering is not configured")
	}
	payload := renderRequest{Format: format, Style: style, Locale: locale, Items: make([]map[string]interface{}, 0, len(items))}
	for _, item := range items {
		if item.Type == models.ObjectItem {
			payload.Items = append(payload.Items, CSLJSON(item))
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode citation request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serviceURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build citation request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("citation service unreachable", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "Citation service unavailable")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		s.logger.Warn("citation service error", zap.Int("status", res.StatusCode))
		if res.StatusCode == http.StatusBadRequest {
			return nil, appErrors.Clone(appErrors.ErrValidation, "Invalid citation style or locale")
		}
		return nil, appErrors.Wrap(fmt.Errorf("status %d", res.StatusCode), appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "Citation service unavailable")
	}
	var out renderResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "Invalid citation service response")
	}
	s.logger.Debug("citation rendered",
		zap.String("format", format),
		zap.Int("items", len(payload.Items)),
		zap.Duration("latency", time.Since(start)),
	)
	return &out, nil
}
