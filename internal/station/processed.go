// SPDX-License-Identifier: MIT

package station

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxGenres = 200

// Processed is the derived filter view over a payload: per-facet station
// index lists plus a normalized search text per station. It is rebuilt
// whenever the active fingerprint changes.
type Processed struct {
	StationCount int
	Countries    []string
	Genres       []string
	SearchTexts  []string

	byCountry  map[string][]int
	byLanguage map[string][]int
	byTag      map[string][]int
}

// BuildProcessed derives the index from stations.
func BuildProcessed(stations []Station) *Processed {
	p := &Processed{
		StationCount: len(stations),
		SearchTexts:  make([]string, 0, len(stations)),
		byCountry:    make(map[string][]int),
		byLanguage:   make(map[string][]int),
		byTag:        make(map[string][]int),
	}

	countrySet := make(map[string]struct{})
	type genreEntry struct {
		label string
		count int
	}
	genreCounts := make(map[string]*genreEntry)

	for idx, s := range stations {
		if country := strings.TrimSpace(s.Country); country != "" {
			countrySet[country] = struct{}{}
			if token := normalizeToken(country); token != "" {
				p.byCountry[token] = append(p.byCountry[token], idx)
			}
		}
		if code := normalizeToken(s.CountryCode); code != "" {
			p.byCountry[code] = append(p.byCountry[code], idx)
		}
		for _, language := range s.Languages {
			if token := normalizeToken(language); token != "" {
				p.byLanguage[token] = append(p.byLanguage[token], idx)
			}
		}
		for _, tag := range s.Tags {
			token := normalizeToken(tag)
			if token == "" {
				continue
			}
			p.byTag[token] = append(p.byTag[token], idx)
			entry, found := genreCounts[token]
			if !found {
				entry = &genreEntry{label: strings.TrimSpace(tag)}
				genreCounts[token] = entry
			}
			entry.count++
		}

		parts := make([]string, 0, 2+len(s.Tags)+len(s.Languages))
		parts = append(parts, foldSearchText(s.Name))
		for _, tag := range s.Tags {
			parts = append(parts, foldSearchText(tag))
		}
		for _, language := range s.Languages {
			parts = append(parts, foldSearchText(language))
		}
		if s.Country != "" {
			parts = append(parts, foldSearchText(s.Country))
		}
		p.SearchTexts = append(p.SearchTexts, strings.Join(parts, " "))
	}

	p.Countries = make([]string, 0, len(countrySet))
	for country := range countrySet {
		p.Countries = append(p.Countries, country)
	}
	sort.Strings(p.Countries)

	genres := make([]*genreEntry, 0, len(genreCounts))
	for _, entry := range genreCounts {
		genres = append(genres, entry)
	}
	sort.Slice(genres, func(i, j int) bool {
		if genres[i].count != genres[j].count {
			return genres[i].count > genres[j].count
		}
		return genres[i].label < genres[j].label
	})
	if len(genres) > maxGenres {
		genres = genres[:maxGenres]
	}
	p.Genres = make([]string, 0, len(genres))
	for _, entry := range genres {
		p.Genres = append(p.Genres, entry.label)
	}

	return p
}

// IndexesForCountry returns the station indexes for a country name or code.
func (p *Processed) IndexesForCountry(country string) ([]int, bool) {
	list, found := p.byCountry[normalizeToken(country)]
	return list, found
}

// IndexesForLanguage returns the station indexes for a language.
func (p *Processed) IndexesForLanguage(language string) ([]int, bool) {
	list, found := p.byLanguage[normalizeToken(language)]
	return list, found
}

// IndexesForTag returns the station indexes for a tag.
func (p *Processed) IndexesForTag(tag string) ([]int, bool) {
	list, found := p.byTag[normalizeToken(tag)]
	return list, found
}

// FilterSearch retains only indexes whose search text contains the needle.
func (p *Processed) FilterSearch(search string, indexes []int) []int {
	needle := foldSearchText(search)
	filtered := indexes[:0]
	for _, idx := range indexes {
		if strings.Contains(p.SearchTexts[idx], needle) {
			filtered = append(filtered, idx)
		}
	}
	return filtered
}

// IntersectLists intersects index lists, preserving the original station
// order. An empty input selects every station.
func IntersectLists(lists [][]int, stationCount int) []int {
	if len(lists) == 0 {
		result := make([]int, stationCount)
		for i := range result {
			result[i] = i
		}
		return result
	}

	ordered := make([][]int, len(lists))
	copy(ordered, lists)
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) < len(ordered[j]) })

	result := make([]int, len(ordered[0]))
	copy(result, ordered[0])
	for _, list := range ordered[1:] {
		set := make(map[int]struct{}, len(list))
		for _, idx := range list {
			set[idx] = struct{}{}
		}
		kept := result[:0]
		for _, idx := range result {
			if _, found := set[idx]; found {
				kept = append(kept, idx)
			}
		}
		result = kept
		if len(result) == 0 {
			break
		}
	}
	sort.Ints(result)
	return result
}

func normalizeToken(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

var searchFolder = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldSearchText lowercases and strips combining marks so accented names
// match unaccented queries.
func foldSearchText(value string) string {
	folded, _, err := transform.String(searchFolder, value)
	if err != nil {
		folded = value
	}
	return strings.ToLower(folded)
}
