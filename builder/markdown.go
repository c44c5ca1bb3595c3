package builder

import (
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// Markdown renders doc as Markdown. Scripts and styles are dropped.
func Markdown(doc string) (string, error) {
	md, err := mdConverter.ConvertString(doc)
	if err != nil {
		return "", fmt.Errorf("builder: markdown: %w", err)
	}
	return md, nil
}
