// ABOUTME: Handler implementations for the six analytics tools.
// ABOUTME: Each handler validates arguments, issues one upstream GET, and shapes the result.

package tools

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// channels accepted by get-posts. The first entry is the default.
var postChannels = []string{"facebook", "instagram", "twitter", "linkedin", "tiktok", "youtube"}

func (tb *Toolbox) listBrands(ctx context.Context, _ map[string]any) (any, error) {
	raw, err := tb.upstream.Get(ctx, "/api/admin/simpleProfiles", nil)
	if err != nil {
		return nil, err
	}
	return shapeBrands(raw), nil
}

func (tb *Toolbox) getTimeline(ctx context.Context, args map[string]any) (any, error) {
	metric, err := requireArg(args, "metric")
	if err != nil {
		return nil, err
	}
	blog, err := tb.resolveWorkspace(args)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("blogId", blog)
	setIfPresent(q, "start", args)
	setIfPresent(q, "end", args)

	raw, err := tb.upstream.Get(ctx, "/api/v2/analytics/timelines/"+url.PathEscape(metric), q)
	if err != nil {
		return nil, err
	}
	return shapeTimeline(raw), nil
}

func (tb *Toolbox) getValues(ctx context.Context, args map[string]any) (any, error) {
	category, err := requireArg(args, "category")
	if err != nil {
		return nil, err
	}
	blog, err := tb.resolveWorkspace(args)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("blogId", blog)
	setIfPresent(q, "date", args)

	raw, err := tb.upstream.Get(ctx, "/api/v2/analytics/stats/"+url.PathEscape(category), q)
	if err != nil {
		return nil, err
	}
	return shapeValues(raw), nil
}

func (tb *Toolbox) getPosts(ctx context.Context, args map[string]any) (any, error) {
	channel := stringArg(args, "channel")
	if channel == "" {
		channel = postChannels[0]
	}
	if !validChannel(channel) {
		return nil, &ArgumentError{
			Name:   "channel",
			Reason: fmt.Sprintf("must be one of %s", strings.Join(postChannels, ", ")),
		}
	}
	blog, err := tb.resolveWorkspace(args)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("blogId", blog)
	setIfPresent(q, "start", args)
	setIfPresent(q, "end", args)

	raw, err := tb.upstream.Get(ctx, "/api/v2/analytics/posts/"+url.PathEscape(channel), q)
	if err != nil {
		return nil, err
	}
	return shapePosts(raw), nil
}

func (tb *Toolbox) listReports(ctx context.Context, args map[string]any) (any, error) {
	blog, err := tb.resolveWorkspace(args)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("blogId", blog)

	raw, err := tb.upstream.Get(ctx, "/api/v2/reports", q)
	if err != nil {
		return nil, err
	}
	return shapeReports(raw), nil
}

func (tb *Toolbox) reportStatus(ctx context.Context, args map[string]any) (any, error) {
	jobID, err := requireArg(args, "jobId")
	if err != nil {
		return nil, err
	}
	blog, err := tb.resolveWorkspace(args)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("blogId", blog)

	raw, err := tb.upstream.Get(ctx, "/api/v2/reports/"+url.PathEscape(jobID), q)
	if err != nil {
		return nil, err
	}
	return shapeReportStatus(raw), nil
}

// resolveWorkspace applies the workspace precedence: per-call override, then
// the configured default blog id, then a client error naming the missing
// configuration.
func (tb *Toolbox) resolveWorkspace(args map[string]any) (string, error) {
	if blog := stringArg(args, "workspace"); blog != "" {
		return blog, nil
	}
	if tb.defaultBlog != "" {
		return tb.defaultBlog, nil
	}
	return "", &ArgumentError{
		Name:   "workspace",
		Reason: "not provided and no default brand is configured (set METRICOOL_BLOG_ID or metricool.blog_id)",
	}
}

// stringArg coerces an argument to a trimmed string. JSON numbers are
// formatted without an exponent so numeric ids survive the round trip.
func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// requireArg returns a client error when the argument is missing or blank.
func requireArg(args map[string]any, key string) (string, error) {
	v := stringArg(args, key)
	if v == "" {
		return "", &ArgumentError{Name: key, Reason: "is required"}
	}
	return v, nil
}

// setIfPresent copies an optional argument into the query, omitting it
// entirely when unset.
func setIfPresent(q url.Values, key string, args map[string]any) {
	if v := stringArg(args, key); v != "" {
		q.Set(key, v)
	}
}

func validChannel(channel string) bool {
	for _, c := range postChannels {
		if c == channel {
			return true
		}
	}
	return false
}
