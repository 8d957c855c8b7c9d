package registry

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractDetails pulls label/value pairs out of the result table, i.e. any
// table with a cell mentioning the IMEI. Returns nil when there is none.
func ExtractDetails(html string) map[string]string {
	if strings.TrimSpace(html) == "" {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	details := make(map[string]string)
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		marker := table.Find("td").FilterFunction(func(_ int, td *goquery.Selection) bool {
			return strings.Contains(td.Text(), "IMEI")
		})
		if marker.Length() == 0 {
			return
		}

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td, th")
			if cells.Length() < 2 {
				return
			}
			key := cleanCell(cells.First().Text())
			key = strings.TrimSuffix(key, ":")
			if key == "" {
				return
			}

			var values []string
			cells.Slice(1, cells.Length()).Each(func(_ int, cell *goquery.Selection) {
				if v := cleanCell(cell.Text()); v != "" {
					values = append(values, v)
				}
			})
			if len(values) > 0 {
				details[strings.TrimSpace(key)] = strings.Join(values, " ")
			}
		})
	})

	if len(details) == 0 {
		return nil
	}
	return details
}

func cleanCell(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
