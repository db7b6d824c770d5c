package main

import "regexp"

type spacingRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Han characters and Latin letters or digits are separated by one space
// when they touch, directly or through punctuation. Order matters: the
// punctuation rules must run before the bare adjacency rules.
var spacingRules = []spacingRule{
	{regexp.MustCompile(`(\p{Han})([-/]+)([A-Za-z0-9])`), "$1 $2 $3"},
	{regexp.MustCompile(`([A-Za-z0-9])([-/]+)(\p{Han})`), "$1 $2 $3"},
	{regexp.MustCompile(`(\p{Han})([(\[{'"]+)([A-Za-z0-9])`), "$1 $2$3"},
	{regexp.MustCompile(`([A-Za-z0-9])([(\[{'"]+)(\p{Han})`), "$1 $2$3"},
	{regexp.MustCompile(`(\p{Han})([,.;:!?)\]}]+)([A-Za-z0-9])`), "$1$2 $3"},
	{regexp.MustCompile(`([A-Za-z0-9])([,.;:!?)\]}]+)(\p{Han})`), "$1$2 $3"},
	{regexp.MustCompile(`(\p{Han})([A-Za-z0-9])`), "$1 $2"},
	{regexp.MustCompile(`([A-Za-z0-9])(\p{Han})`), "$1 $2"},
}

// spaceMixedScripts prepares turn content for terminal display.
func spaceMixedScripts(content string) string {
	for _, rule := range spacingRules {
		content = rule.pattern.ReplaceAllString(content, rule.replacement)
	}
	return content
}
