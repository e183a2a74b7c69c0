package etl

import (
	"errors"

	"github.com/BartekS5/esync/pkg/models"
	"github.com/tidwall/gjson"
)

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDocument rejects documents the bulk API could not even parse.
func (v *Validator) ValidateDocument(doc models.Document) error {
	if doc.ID == "" {
		return errors.New("missing document _id")
	}
	if len(doc.Source) == 0 || !gjson.ValidBytes(doc.Source) {
		return errors.New("source is not valid JSON")
	}
	if !gjson.ParseBytes(doc.Source).IsObject() {
		return errors.New("source is not a JSON object")
	}
	return nil
}
