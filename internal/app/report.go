package app

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"panelscan/inspection-server/internal/model"
)

// Reports are only issued for panels whose inspection has been signed off.
// The output is a self-contained HTML document served as a download.

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="ko">
<head>
<meta charset="utf-8">
<title>점검 보고서 - {{.PanelNo}}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
h1 { border-bottom: 2px solid #444; padding-bottom: 0.3em; }
table { border-collapse: collapse; margin: 1em 0; width: 100%; }
th, td { border: 1px solid #999; padding: 0.4em 0.8em; text-align: left; }
th { background: #eee; }
.meta td:first-child { width: 12em; font-weight: bold; background: #f6f6f6; }
</style>
</head>
<body>
<h1>분전반 점검 보고서</h1>
<table class="meta">
<tr><td>분전반 번호</td><td>{{.PanelNo}}</td></tr>
<tr><td>현장명</td><td>{{.ProjectName}}</td></tr>
<tr><td>시공사</td><td>{{.Contractor}}</td></tr>
<tr><td>관리번호</td><td>{{.ManagementNo}}</td></tr>
<tr><td>층</td><td>{{.Floor}}</td></tr>
<tr><td>변압기</td><td>{{.Transformer}}</td></tr>
<tr><td>전선 굵기</td><td>{{.ConductorSize}}</td></tr>
<tr><td>점검일시</td><td>{{.LastInspectionDate}}</td></tr>
<tr><td>점검자</td><td>{{.InspectorList}}</td></tr>
<tr><td>접지 상태</td><td>{{.Grounding}}</td></tr>
</table>
{{if .Breakers}}
<h2>차단기</h2>
<table>
<tr><th>회로</th><th>용량</th><th>전류 (A)</th><th>전압 (V)</th></tr>
{{range .Breakers}}<tr><td>{{.Circuit}}</td><td>{{.Capacity}}</td><td>{{printf "%.1f" .Current}}</td><td>{{printf "%.1f" .Voltage}}</td></tr>
{{end}}
</table>
{{end}}
<h2>부하 현황</h2>
<table>
<tr><th>용접기</th><th>그라인더</th><th>조명</th><th>펌프</th></tr>
<tr><td>{{if .Loads.Welder}}사용{{else}}-{{end}}</td><td>{{if .Loads.Grinder}}사용{{else}}-{{end}}</td><td>{{if .Loads.Light}}사용{{else}}-{{end}}</td><td>{{if .Loads.Pump}}사용{{else}}-{{end}}</td></tr>
</table>
{{if .Thermal}}
<h2>열화상 측정</h2>
<table>
<tr><th>최고 온도</th><th>평균 온도</th><th>비고</th></tr>
<tr><td>{{printf "%.1f" .Thermal.MaxTemp}} ℃</td><td>{{printf "%.1f" .Thermal.AvgTemp}} ℃</td><td>{{.Thermal.Note}}</td></tr>
</table>
{{end}}
{{if .Memo}}
<h2>메모</h2>
<p>{{.Memo}}</p>
{{end}}
</body>
</html>
`))

type reportData struct {
	model.InspectionRecord
	InspectorList string
}

// handleReport renders a completed panel's inspection record as a
// downloadable HTML report. Incomplete panels are refused.
func (a *App) handleReport(w http.ResponseWriter, r *http.Request, panelNo string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rec *model.InspectionRecord
	for _, candidate := range a.engine.WorkingSet() {
		if candidate.PanelNo == panelNo {
			c := candidate
			rec = &c
			break
		}
	}
	if rec == nil {
		http.NotFound(w, r)
		return
	}

	if rec.Status != model.StatusComplete {
		http.Error(w, "inspection is not complete", http.StatusConflict)
		return
	}

	data := reportData{
		InspectionRecord: *rec,
		InspectorList:    strings.Join(rec.Inspectors, ", "),
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		a.logger.Error("failed to render report", "panel", panelNo, "error", err)
		http.Error(w, "failed to render report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "report-"+panelNo+".html"))
	_, _ = buf.WriteTo(w)
}
