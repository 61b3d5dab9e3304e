package processor

import (
	"testing"

	"github.com/eidaws/eidaws/testing/assert"
)

func TestStripHeaderLine(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "header and rows",
			body: "#Network|Station|Latitude\nCH|HASLI|46.76\nCH|DAVOX|46.78\n",
			want: "CH|HASLI|46.76\nCH|DAVOX|46.78\n",
		},
		{name: "no header", body: "CH|HASLI|46.76\n", want: "CH|HASLI|46.76\n"},
		{name: "header only", body: "#Network|Station", want: ""},
		{name: "empty", body: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(stripHeaderLine([]byte(tt.body))))
		})
	}
}

func TestStripGeoCSVHeader(t *testing.T) {
	body := "#dataset: GeoCSV 2.0\n" +
		"#delimiter: |\n" +
		"#field_unit: unitless\n" +
		"#field_type: string\n" +
		"Network|Station\n" +
		"CH|HASLI\nCH|DAVOX\n"
	assert.Equal(t, "CH|HASLI\nCH|DAVOX\n", string(stripGeoCSVHeader([]byte(body))))
	assert.Equal(t, "", string(stripGeoCSVHeader([]byte("#dataset: GeoCSV 2.0\n"))))
}

func TestExtractDatasources(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "two entries",
			body: `{"created":"2019-01-01T00:00:00Z","datasources":[{"net":"CH"},{"net":"GR"}]}`,
			want: `{"net":"CH"},{"net":"GR"}`,
		},
		{
			name: "empty list",
			body: `{"created":"2019-01-01T00:00:00Z","datasources":[]}`,
			want: "",
		},
		{
			name: "multiline",
			body: "{\n \"datasources\": [\n  {\"net\":\"CH\"}\n ]\n}",
			want: `{"net":"CH"}`,
		},
		{name: "missing key", body: `{"created":"x"}`, want: ""},
		{name: "not json", body: "nope", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(extractDatasources([]byte(tt.body))))
		})
	}
}
