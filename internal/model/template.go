// internal/model/template.go
package model

type Template struct {
	ID            int    `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	Subject       string `db:"subject" json:"subject"`
	HTMLContent   string `db:"html_content" json:"html_content"`
	BuilderSchema string `db:"builder_schema" json:"builder_schema"`
	Version       int    `db:"version" json:"version"`
}
