package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ucasvieira/locadora/internal/errs"
)

const matrix = `{"id":"1","title":"The Matrix","category":"Sci-Fi","year":1999,"rating":8.7,"available":true,"tags":["cult","cyberpunk"],"imageUrl":null}`

func TestParseCondition(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected Condition
	}{
		{
			name:     "quoted string with spaces",
			input:    `title equals "The Matrix"`,
			expected: Condition{Path: "title", Operator: "equals", Value: "The Matrix", Type: gjson.String, Original: `title equals "The Matrix"`},
		},
		{
			name:     "number",
			input:    `year greaterThan 1990`,
			expected: Condition{Path: "year", Operator: "greaterthan", Value: float64(1990), Type: gjson.Number, Original: `year greaterThan 1990`},
		},
		{
			name:     "bool",
			input:    `available equals true`,
			expected: Condition{Path: "available", Operator: "equals", Value: true, Type: gjson.True, Original: `available equals true`},
		},
		{
			name:     "null",
			input:    `imageUrl equals null`,
			expected: Condition{Path: "imageUrl", Operator: "equals", Value: nil, Type: gjson.Null, Original: `imageUrl equals null`},
		},
		{
			name:     "insensitive",
			input:    `title contains-insensitive matrix`,
			expected: Condition{Path: "title", Operator: "contains", Value: "matrix", Type: gjson.String, Insensitive: true, Original: `title contains-insensitive matrix`},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseCondition(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string][]string{
		"missing value":           {"year greaterThan"},
		"unknown operator":        {"year bigger 3"},
		"insensitive on ordering": {"year greaterThan-insensitive 3"},
		"bad logic":               {"year equals 1", "xor", "year equals 2"},
		"trailing logic":          {"year equals 1", "and"},
		"empty part":              {" "},
	}
	for name, parts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(parts)
			require.ErrorIs(t, err, errs.ErrValidation)
		})
	}

	q, err := Parse(nil)
	require.NoError(t, err)
	require.Nil(t, q)
}

func TestMatch(t *testing.T) {
	testCases := []struct {
		name  string
		parts []string
		want  bool
	}{
		{"number gt", []string{"year greaterThan 1990"}, true},
		{"number lte", []string{"rating lessThanOrEquals 8.7"}, true},
		{"string contains insensitive", []string{"title contains-insensitive matrix"}, true},
		{"string contains sensitive", []string{"title contains matrix"}, false},
		{"startsWith", []string{`title startsWith "The"`}, true},
		{"endsWith insensitive", []string{"category endsWith-insensitive FI"}, true},
		{"bool", []string{"available equals false"}, false},
		{"null", []string{"imageUrl equals null"}, true},
		{"array contains", []string{"tags contains cult"}, true},
		{"array contains insensitive", []string{"tags contains-insensitive CYBERPUNK"}, true},
		{"missing path", []string{"director equals x"}, false},
		{"missing path notEquals", []string{"director notEquals x"}, true},
		{"unquoted number against string", []string{"id equals 1"}, true},
		{"and", []string{"year greaterThan 1990", "and", "category equals Crime"}, false},
		{"or", []string{"year greaterThan 2005", "or", "category equals Sci-Fi"}, true},
		{"left to right", []string{"year lessThan 1900", "or", "available equals true", "and", "rating greaterThan 9"}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := Parse(tc.parts)
			require.NoError(t, err)
			got, err := q.Match(matrix)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatch_TypeErrors(t *testing.T) {
	for _, parts := range [][]string{
		{"title greaterThan 3"},
		{"year contains 9"},
		{"available greaterThan true"},
		{"tags equals x"},
	} {
		q, err := Parse(parts)
		require.NoError(t, err)
		_, err = q.Match(matrix)
		require.ErrorIs(t, err, errs.ErrValidation, parts)
	}
}

func TestFilter(t *testing.T) {
	type movie struct {
		Title string `json:"title"`
		Year  int    `json:"year"`
	}
	movies := []movie{{"Alien", 1979}, {"Inception", 2010}, {"Get Out", 2017}}

	q, err := Parse([]string{"year greaterThanOrEquals 2010"})
	require.NoError(t, err)
	got, err := Filter(movies, q)
	require.NoError(t, err)
	require.Equal(t, []movie{{"Inception", 2010}, {"Get Out", 2017}}, got)

	all, err := Filter(movies, nil)
	require.NoError(t, err)
	require.Equal(t, movies, all)
}
