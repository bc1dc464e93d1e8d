// ABOUTME: Per-tool projections from upstream JSON into the caller-facing schema.
// ABOUTME: Upstream documents are loosely typed; missing fields degrade to zero values.

package tools

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// The projection rules below are part of the public contract: callers only
// ever see these fields, and renaming or dropping one is a breaking change.

// Brand is the reduced brand (profile) record returned by list-brands.
type Brand struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Title    string `json:"title"`
	Timezone string `json:"timezone"`
}

// TimelinePoint is one day of a metric time series.
type TimelinePoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// AggregatedValue is one metric of an aggregated snapshot.
type AggregatedValue struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

// Post is the reduced published-post record returned by get-posts.
type Post struct {
	ID           string  `json:"id"`
	Published    string  `json:"published"`
	Text         string  `json:"text"`
	URL          string  `json:"url"`
	Interactions float64 `json:"interactions"`
}

// Report is one entry of the report generation history.
type Report struct {
	JobID     string `json:"jobId"`
	CreatedAt string `json:"createdAt"`
	Status    string `json:"status"`
	URL       string `json:"url"`
}

// ReportStatus is the state of one report generation job.
type ReportStatus struct {
	JobID    string  `json:"jobId"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	URL      string  `json:"url"`
}

// root unwraps the optional {"data": ...} envelope some endpoints use.
func root(raw json.RawMessage) gjson.Result {
	doc := gjson.ParseBytes(raw)
	if data := doc.Get("data"); data.Exists() {
		return data
	}
	return doc
}

func shapeBrands(raw json.RawMessage) []Brand {
	brands := []Brand{}
	root(raw).ForEach(func(_, item gjson.Result) bool {
		brands = append(brands, Brand{
			ID:       item.Get("id").String(),
			Label:    item.Get("label").String(),
			Title:    item.Get("title").String(),
			Timezone: item.Get("timezone").String(),
		})
		return true
	})
	return brands
}

// shapeTimeline reduces the upstream tuple array [["20240101","5"], ...]
// into date/value pairs. Values arrive as strings or numbers; both coerce.
func shapeTimeline(raw json.RawMessage) []TimelinePoint {
	points := []TimelinePoint{}
	root(raw).ForEach(func(_, tuple gjson.Result) bool {
		parts := tuple.Array()
		if len(parts) < 2 {
			return true
		}
		points = append(points, TimelinePoint{
			Date:  parts[0].String(),
			Value: parts[1].Float(),
		})
		return true
	})
	return points
}

// shapeValues flattens a snapshot object into metric/value pairs,
// skipping anything non-numeric.
func shapeValues(raw json.RawMessage) []AggregatedValue {
	values := []AggregatedValue{}
	root(raw).ForEach(func(key, val gjson.Result) bool {
		switch val.Type {
		case gjson.Number:
			values = append(values, AggregatedValue{Metric: key.String(), Value: val.Float()})
		case gjson.String:
			// Numeric strings count; anything else is upstream-internal.
			if parsed := gjson.Parse(val.String()); parsed.Type == gjson.Number {
				values = append(values, AggregatedValue{Metric: key.String(), Value: parsed.Float()})
			}
		}
		return true
	})
	return values
}

func shapePosts(raw json.RawMessage) []Post {
	posts := []Post{}
	root(raw).ForEach(func(_, item gjson.Result) bool {
		text := item.Get("text")
		if !text.Exists() {
			text = item.Get("content")
		}
		posts = append(posts, Post{
			ID:           item.Get("id").String(),
			Published:    item.Get("publishedAt").String(),
			Text:         text.String(),
			URL:          item.Get("url").String(),
			Interactions: item.Get("interactions").Float(),
		})
		return true
	})
	return posts
}

func shapeReports(raw json.RawMessage) []Report {
	reports := []Report{}
	root(raw).ForEach(func(_, item gjson.Result) bool {
		reports = append(reports, Report{
			JobID:     item.Get("jobId").String(),
			CreatedAt: item.Get("createdAt").String(),
			Status:    item.Get("status").String(),
			URL:       item.Get("url").String(),
		})
		return true
	})
	return reports
}

func shapeReportStatus(raw json.RawMessage) ReportStatus {
	item := root(raw)
	return ReportStatus{
		JobID:    item.Get("jobId").String(),
		Status:   item.Get("status").String(),
		Progress: item.Get("progress").Float(),
		URL:      item.Get("url").String(),
	}
}
