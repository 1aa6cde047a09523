package stage

import (
	"fmt"
	"strings"
	"time"

	"MailPrompter/internal/domain"
)

// File name stage tags. Terminal renames replace PrefixProcessed on its first occurrence.
const (
	PrefixProcessed = "processed_"
	PrefixCompleted = "completed_"
	PrefixFailed    = "failed_robot_command_"
	PrefixEmpty     = "empty_robot_command_"

	promptSuffix = "_robot_command.txt"
	itemExt      = ".txt"
)

// Globs used to select pending work from a directory listing.
const (
	fetchedGlob = "*_????????_*.txt"
	promptGlob  = PrefixProcessed + "*" + promptSuffix
)

var stagePrefixes = []string{PrefixProcessed, PrefixCompleted, PrefixFailed, PrefixEmpty}

// FetchedName renders <category>_<YYYYMMDD>_<NNN>.txt.
func FetchedName(category string, day time.Time, ordinal int) string {
	return fmt.Sprintf("%s_%s_%03d%s", category, day.Format(domain.DayLayout), ordinal, itemExt)
}

// ArchivedName is the name an original takes in the archive directory.
func ArchivedName(name string) string {
	return PrefixProcessed + name
}

// PromptName is the name of the pending prompt produced from an original.
func PromptName(name string) string {
	return PrefixProcessed + strings.TrimSuffix(name, itemExt) + promptSuffix
}

// CompletedName, FailedName and EmptyName rewrite a pending prompt name into its terminal form.
func CompletedName(prompt string) string {
	return strings.Replace(prompt, PrefixProcessed, PrefixCompleted, 1)
}

func FailedName(prompt string) string {
	return strings.Replace(prompt, PrefixProcessed, PrefixFailed, 1)
}

func EmptyName(prompt string) string {
	return strings.Replace(prompt, PrefixProcessed, PrefixEmpty, 1)
}

// HasStagePrefix reports whether the name already carries a stage tag.
func HasStagePrefix(name string) bool {
	for _, prefix := range stagePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// ParseFetched decodes a raw fetched item name.
func ParseFetched(name string) (domain.Item, bool) {
	if !strings.HasSuffix(name, itemExt) || strings.HasPrefix(name, ".") || HasStagePrefix(name) {
		return domain.Item{}, false
	}
	item, ok := parseStem(strings.TrimSuffix(name, itemExt))
	if !ok {
		return domain.Item{}, false
	}
	item.Stage = domain.StageFetched
	item.Name = name
	return item, true
}

// ParsePrompt decodes a pending prompt name.
func ParsePrompt(name string) (domain.Item, bool) {
	return parseTagged(name, PrefixProcessed, promptSuffix, domain.StagePrompted)
}

// Classify decodes any name produced by the pipeline into its item and stage.
func Classify(name string) (domain.Item, bool) {
	tagged := []struct {
		prefix string
		suffix string
		stage  domain.Stage
	}{
		{PrefixProcessed, promptSuffix, domain.StagePrompted},
		{PrefixCompleted, promptSuffix, domain.StageCompleted},
		{PrefixFailed, promptSuffix, domain.StageFailed},
		{PrefixEmpty, promptSuffix, domain.StageEmpty},
		{PrefixProcessed, itemExt, domain.StageArchived},
	}
	for _, form := range tagged {
		if item, ok := parseTagged(name, form.prefix, form.suffix, form.stage); ok {
			return item, true
		}
	}
	return ParseFetched(name)
}

func parseTagged(name, prefix, suffix string, stage domain.Stage) (domain.Item, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return domain.Item{}, false
	}
	if len(name) <= len(prefix)+len(suffix) {
		return domain.Item{}, false
	}
	item, ok := parseStem(name[len(prefix) : len(name)-len(suffix)])
	if !ok {
		return domain.Item{}, false
	}
	item.Stage = stage
	item.Name = name
	return item, true
}

// parseStem splits <category>_<YYYYMMDD>_<NNN> from the right so categories may contain '_'.
func parseStem(stem string) (domain.Item, bool) {
	cut := strings.LastIndexByte(stem, '_')
	if cut <= 0 {
		return domain.Item{}, false
	}
	ordinal, ok := parseOrdinal(stem[cut+1:])
	if !ok || len(stem[cut+1:]) < 3 {
		return domain.Item{}, false
	}

	rest := stem[:cut]
	cut = strings.LastIndexByte(rest, '_')
	if cut <= 0 {
		return domain.Item{}, false
	}
	dayPart := rest[cut+1:]
	if len(dayPart) != len(domain.DayLayout) {
		return domain.Item{}, false
	}
	day, err := time.Parse(domain.DayLayout, dayPart)
	if err != nil {
		return domain.Item{}, false
	}

	return domain.Item{
		Category: rest[:cut],
		Day:      day,
		Ordinal:  ordinal,
	}, true
}

func parseOrdinal(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 1_000_000 {
			return 0, false
		}
	}
	return n, true
}
