package resolve

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/yz4230/deployhost/internal/entity"
)

var (
	regionRe       = regexp.MustCompile(`\b((?:us|eu|ap|ca|sa)-[a-z]+-\d+)\b`)
	repoRe         = regexp.MustCompile(`\bhttps?://(?:github\.com|gitlab\.com|bitbucket\.org)/[\w.-]+/[\w.-]+`)
	instanceTypeRe = regexp.MustCompile(`\b((?:t3|t4g|m5|c6g|r5)\.(?:micro|small|medium|large|xlarge))\b`)
	portRe         = regexp.MustCompile(`\bport\s+(\d{2,5})\b`)
	healthRe       = regexp.MustCompile(`\bhealth(?:\s+check)?\s+(?:path\s+)?(/[^\s,;]*)`)
	ttlRe          = regexp.MustCompile(`\b(?:ttl\s+|auto-destroy\s+in\s+)?(\d+)\s*(?:h|hours?)\b`)
)

var regionAliases = []struct {
	pattern *regexp.Regexp
	region  string
}{
	{regexp.MustCompile(`\boregon\b`), "us-west-2"},
	{regexp.MustCompile(`\b(?:n\. |northern )virginia\b`), "us-east-1"},
	{regexp.MustCompile(`\bohio\b`), "us-east-2"},
	{regexp.MustCompile(`\bcalifornia\b`), "us-west-1"},
	{regexp.MustCompile(`\bfrankfurt\b`), "eu-central-1"},
	{regexp.MustCompile(`\bireland\b`), "eu-west-1"},
	{regexp.MustCompile(`\blondon\b`), "eu-west-2"},
	{regexp.MustCompile(`\btokyo\b`), "ap-northeast-1"},
	{regexp.MustCompile(`\bseoul\b`), "ap-northeast-2"},
	{regexp.MustCompile(`\bsingapore\b`), "ap-southeast-1"},
	{regexp.MustCompile(`\bsydney\b`), "ap-southeast-2"},
	{regexp.MustCompile(`\bmumbai\b`), "ap-south-1"},
}

var sizes = []struct {
	pattern *regexp.Regexp
	size    string
}{
	{regexp.MustCompile(`\b(?:tiny|very small|micro)\b`), "micro"},
	{regexp.MustCompile(`\b(?:xlarge|extra large)\b`), "xlarge"},
	{regexp.MustCompile(`\bsmall\b`), "small"},
	{regexp.MustCompile(`\bmedium\b`), "medium"},
	{regexp.MustCompile(`\blarge\b`), "large"},
}

// Rules extracts parameters with fixed phrase rules. It never fails.
type Rules struct{}

func (Rules) Resolve(ctx context.Context, p entity.Parameters) (entity.Parameters, error) {
	text := strings.ToLower(p.Instructions)
	var hits []string
	setVar := func(key string, v any) {
		if _, ok := p.Vars[key]; ok {
			return
		}
		if p.Vars == nil {
			p.Vars = map[string]any{}
		}
		p.Vars[key] = v
		hits = append(hits, key)
	}

	if p.Repo == "" {
		if m := repoRe.FindString(p.Instructions); m != "" {
			p.Repo = strings.TrimSuffix(m, ".")
			hits = append(hits, "repo")
		}
	}
	if p.Region == "" {
		if r := extractRegion(text); r != "" {
			p.Region = r
			hits = append(hits, "region")
		}
	}
	if m := instanceTypeRe.FindStringSubmatch(text); m != nil {
		setVar("instance_type", m[1])
	}
	for _, s := range sizes {
		if s.pattern.MatchString(text) {
			setVar("instance_size", s.size)
			break
		}
	}
	if m := portRe.FindStringSubmatch(text); m != nil {
		if port, err := strconv.Atoi(m[1]); err == nil && port > 0 && port < 65536 {
			setVar("port", port)
		}
	}
	if m := healthRe.FindStringSubmatch(text); m != nil {
		setVar("health_path", m[1])
	}
	if m := ttlRe.FindStringSubmatch(text); m != nil {
		if ttl, err := strconv.Atoi(m[1]); err == nil && ttl > 0 {
			setVar("ttl_hours", ttl)
		}
	}

	zerolog.Ctx(ctx).Debug().Strs("hits", hits).Msg("rules resolved instructions")
	return p, nil
}

func extractRegion(text string) string {
	if m := regionRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	for _, a := range regionAliases {
		if a.pattern.MatchString(text) {
			return a.region
		}
	}
	return ""
}
