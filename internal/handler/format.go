package handler

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/service"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
	"github.com/noah-isme/libsync-api/pkg/response"
)

// rendering is the input of a format renderer.
type rendering struct {
	objectType models.ObjectType
	format     dto.Format
	objects    []*models.Object
	meta       map[string]map[string]interface{}
	total      int
	single     bool
	query      dto.ListQuery
	scope      models.RequestScope
}

type renderer struct {
	render func(h *ObjectHandler, c *gin.Context, r rendering) error
	// itemsOnly formats describe bibliographic records and make no sense for collections or searches.
	itemsOnly bool
}

var renderers = map[dto.Format]renderer{
	dto.FormatJSON:     {render: renderJSON},
	dto.FormatAtom:     {render: renderAtom},
	dto.FormatKeys:     {render: renderKeys},
	dto.FormatVersions: {render: renderVersions},
	dto.FormatCSLJSON:  {render: renderCSLJSON, itemsOnly: true},
	dto.FormatBib:      {render: renderCitation, itemsOnly: true},
	dto.FormatBibTeX:   {render: renderCitation, itemsOnly: true},
	dto.FormatRIS:      {render: renderCitation, itemsOnly: true},
}

var citationContentTypes = map[dto.Format]string{
	dto.FormatBib:    "text/html; charset=utf-8",
	dto.FormatBibTeX: "application/x-bibtex",
	dto.FormatRIS:    "application/x-research-info-systems",
}

// resolveFormat validates the format parameter. Clients on API versions before 3 default to Atom.
func resolveFormat(scope models.RequestScope, raw string, objectType models.ObjectType) (dto.Format, error) {
	if raw == "" {
		if scope.APIVersion > 0 && scope.APIVersion < 3 {
			return dto.FormatAtom, nil
		}
		return dto.FormatJSON, nil
	}
	format := dto.Format(raw)
	r, ok := renderers[format]
	if !ok || (r.itemsOnly && objectType != models.ObjectItem) {
		return "", appErrors.Clonef(appErrors.ErrValidation, "Invalid 'format' value '%s'", raw)
	}
	return format, nil
}

func (h *ObjectHandler) render(c *gin.Context, format dto.Format, r rendering) {
	r.format = format
	if err := renderers[format].render(h, c, r); err != nil {
		response.Error(c, err)
	}
}

func renderJSON(h *ObjectHandler, c *gin.Context, r rendering) error {
	includeData := false
	wantCSL := false
	rendered := map[string]map[string]string{}
	for _, include := range r.query.Includes() {
		switch include {
		case dto.IncludeData:
			includeData = true
		case dto.IncludeBib, dto.IncludeCitation, dto.IncludeCSLJSON:
			if r.objectType != models.ObjectItem {
				return appErrors.Clonef(appErrors.ErrValidation, "Invalid 'include' value '%s'", include)
			}
			if include == dto.IncludeCSLJSON {
				wantCSL = true
				continue
			}
			if len(r.objects) == 0 {
				continue
			}
			out, err := h.citation.RenderEach(c.Request.Context(), include, r.query.Style, r.query.Locale, r.objects)
			if err != nil {
				return err
			}
			rendered[include] = out
		default:
			return appErrors.Clonef(appErrors.ErrValidation, "Invalid 'include' value '%s'", include)
		}
	}

	views := make([]dto.ObjectView, 0, len(r.objects))
	for _, obj := range r.objects {
		view := h.presenter.View(obj, r.meta[obj.Key], includeData)
		view.Bib = rendered[dto.IncludeBib][obj.Key]
		view.Citation = rendered[dto.IncludeCitation][obj.Key]
		if wantCSL {
			view.CSLJSON = service.CSLJSON(obj)
		}
		views = append(views, view)
	}
	if r.single {
		response.JSON(c, http.StatusOK, views[0])
		return nil
	}
	response.JSON(c, http.StatusOK, views)
	return nil
}

func renderAtom(h *ObjectHandler, c *gin.Context, r rendering) error {
	title := fmt.Sprintf("%s / %s", r.scope.Library.Path(), r.objectType.Plural())
	if r.single && len(r.objects) == 1 {
		title = service.ObjectTitle(r.objects[0])
	}
	feed, err := h.presenter.Feed(title, selfURL(h.apiBase, c.Request.URL), r.objects, r.meta, r.total)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render feed")
	}
	body, err := xml.Marshal(feed)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render feed")
	}
	response.Raw(c, http.StatusOK, "application/atom+xml", append([]byte(xml.Header), body...))
	return nil
}

func renderKeys(h *ObjectHandler, c *gin.Context, r rendering) error {
	var b strings.Builder
	for _, obj := range r.objects {
		b.WriteString(obj.Key)
		b.WriteByte('\n')
	}
	response.Text(c, http.StatusOK, b.String())
	return nil
}

func renderVersions(h *ObjectHandler, c *gin.Context, r rendering) error {
	versions := make(map[string]int64, len(r.objects))
	for _, obj := range r.objects {
		versions[obj.Key] = obj.Version
	}
	response.JSON(c, http.StatusOK, versions)
	return nil
}

func renderCSLJSON(h *ObjectHandler, c *gin.Context, r rendering) error {
	items := make([]map[string]interface{}, 0, len(r.objects))
	for _, obj := range r.objects {
		items = append(items, service.CSLJSON(obj))
	}
	response.JSON(c, http.StatusOK, gin.H{"items": items})
	return nil
}

func renderCitation(h *ObjectHandler, c *gin.Context, r rendering) error {
	out, err := h.citation.Export(c.Request.Context(), r.format, r.query.Style, r.query.Locale, r.objects)
	if err != nil {
		return err
	}
	response.Raw(c, http.StatusOK, citationContentTypes[r.format], []byte(out))
	return nil
}

// publicQuery drops the API key so it never leaks into generated links.
func publicQuery(u *url.URL) url.Values {
	query := u.Query()
	query.Del("key")
	return query
}

func selfURL(apiBase string, u *url.URL) string {
	query := publicQuery(u)
	if len(query) == 0 {
		return apiBase + u.Path
	}
	return apiBase + u.Path + "?" + query.Encode()
}

// paginationLinks builds the Link header for a page. It is empty when every match fits on the page.
func paginationLinks(apiBase string, u *url.URL, start, limit, total int) string {
	if limit <= 0 || total <= limit && start == 0 {
		return ""
	}
	link := func(rel string, at int) string {
		query := publicQuery(u)
		query.Set("limit", strconv.Itoa(limit))
		if at > 0 {
			query.Set("start", strconv.Itoa(at))
		} else {
			query.Del("start")
		}
		return fmt.Sprintf(`<%s%s?%s>; rel="%s"`, apiBase, u.Path, query.Encode(), rel)
	}

	var links []string
	if start > 0 {
		links = append(links, link("first", 0))
		prev := start - limit
		if prev < 0 {
			prev = 0
		}
		links = append(links, link("prev", prev))
	}
	if start+limit < total {
		links = append(links, link("next", start+limit))
	}
	if total > 0 {
		links = append(links, link("last", ((total-1)/limit)*limit))
	}
	return strings.Join(links, ", ")
}
