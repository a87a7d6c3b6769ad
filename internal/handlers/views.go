package handlers

import (
	"html/template"
	"net/http"

	"github.com/gorilla/mux"

	"district-insights/internal/dataset"
	"district-insights/internal/models"
	"district-insights/internal/services"
	"district-insights/pkg/logging"
)

const layoutTemplate = `{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: sans-serif; margin: 2rem; }
        table { border-collapse: collapse; }
        th, td { border: 1px solid #ccc; padding: 0.3rem 0.8rem; text-align: right; }
        .error { color: #b00020; }
    </style>
</head>
<body>
{{end}}{{define "foot"}}</body>
</html>{{end}}`

const districtTemplate = `{{template "head" .}}
<h1>{{.District}}</h1>
<form method="get">
    <input type="search" name="search" value="{{.View.Search}}" placeholder="Search">
    <input type="hidden" name="sort" value="{{.View.Sort}}">
    <button type="submit">Search</button>
</form>
<table>
    <thead><tr>{{range .View.Columns}}<th><a href="?sort={{.Key}}&search={{$.View.Search}}">{{.Label}}</a></th>{{end}}</tr></thead>
    <tbody>
    {{- if .View.Empty}}
        <tr><td colspan="{{len .View.Columns}}">{{.View.Message}}</td></tr>
    {{- else}}{{range $row := .View.Rows}}
        <tr>{{range $.View.Columns}}<td>{{($row.Get .Key).String}}</td>{{end}}</tr>
    {{- end}}{{end}}
    </tbody>
</table>
<p>Page {{.PageNumber}} of {{.View.PageCount}}
{{- if .View.CanPrevious}} <a href="?page={{.PageNumber | prev}}&sort={{.View.Sort}}&search={{.View.Search}}">Previous</a>{{end}}
{{- if .View.CanNext}} <a href="?page={{.PageNumber | next}}&sort={{.View.Sort}}&search={{.View.Search}}">Next</a>{{end}}</p>
<h2>Adjustments</h2>
<h3>District level</h3>
<ol>{{range $i, $label := .State.DistrictLabels}}<li>{{$label}}: {{index $.State.DistrictValues $i}}</li>{{end}}</ol>
<h3>Grade level</h3>
<ol>{{range $i, $label := .State.GradeLabels}}<li>{{$label}}: {{index $.State.GradeValues $i}}</li>{{end}}</ol>
{{range .State.Errors}}<p class="error">{{.Field}}: {{.Message}}</p>{{end}}
{{template "foot" .}}`

const resultsTemplate = `{{template "head" .}}
<h1>Prediction{{if .District}} for {{.District}}{{end}}</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<dl>
    <dt>District</dt><dd>{{.Prediction.DistrictPercentIncrease}}</dd>
    <dt>Similar districts</dt><dd>{{.Prediction.SimilarDistrictsPercentIncrease}}</dd>
    <dt>State</dt><dd>{{.Prediction.StatePercentIncrease}}</dd>
</dl>
{{template "foot" .}}`

var viewFuncs = template.FuncMap{
	"prev": func(i int) int { return i - 1 },
	"next": func(i int) int { return i + 1 },
}

var (
	districtView = template.Must(template.Must(template.New("layout").Funcs(viewFuncs).Parse(layoutTemplate)).New("district").Parse(districtTemplate))
	resultsView  = template.Must(template.Must(template.New("layout").Funcs(viewFuncs).Parse(layoutTemplate)).New("results").Parse(resultsTemplate))
)

type districtPage struct {
	Title      string
	District   string
	View       dataset.View
	PageNumber int
	State      services.SessionState
}

type resultsPage struct {
	Title      string
	District   string
	Prediction models.Prediction
	Error      string
}

// DistrictPage handles GET /districts/{name}
func (h *DistrictHandler) DistrictPage(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	name := mux.Vars(r)["name"]

	q, err := parseTableQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.tableView(sess, name, q)
	if err != nil {
		status, _ := statusFor(err)
		http.Error(w, err.Error(), status)
		return
	}

	h.render(w, r, districtView, districtPage{
		Title:      name,
		District:   name,
		View:       view,
		PageNumber: view.Page + 1,
		State:      sess.State(),
	}, http.StatusOK)
}

// ResultsPage handles GET /results. A failed fetch still renders the page
// with every figure shown as N/A.
func (h *DistrictHandler) ResultsPage(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	page := resultsPage{Title: "Results", District: sess.Selected()}
	status := http.StatusOK

	prediction, err := h.adjustments.Prediction(r.Context(), sess)
	if err != nil {
		status, _ = statusFor(err)
		page.Error = err.Error()
		prediction = nil
	}
	page.Prediction = prediction.Display()

	h.render(w, r, resultsView, page, status)
}

func (h *DistrictHandler) render(w http.ResponseWriter, r *http.Request, t *template.Template, data interface{}, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.Execute(w, data); err != nil {
		h.logger.Error(r.Context(), "[VIEW_RENDER_ERROR] Failed to render view", logging.Fields{
			"template": t.Name(),
		}, err)
	}
}
