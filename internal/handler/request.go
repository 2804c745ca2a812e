package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/mercado-insights/internal/apperror"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("", "Corpo da requisição vazio.")
		}
		return apperror.ValidationFailed("", "JSON inválido.")
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("handler: validating request: %w", err)
	}
	return validationError(verrs[0])
}

// validationError turns the first failed rule into a Portuguese message.
func validationError(fe validator.FieldError) error {
	field := fe.Field()
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("O campo %s é obrigatório.", field)
	case "max":
		msg = fmt.Sprintf("O campo %s excede o limite de %s.", field, fe.Param())
	case "min":
		msg = fmt.Sprintf("O campo %s deve ter pelo menos %s.", field, fe.Param())
	case "gt", "gte", "lt", "lte":
		msg = fmt.Sprintf("Valor inválido para %s.", field)
	case "email":
		msg = fmt.Sprintf("O campo %s deve ser um e-mail válido.", field)
	default:
		msg = fmt.Sprintf("O campo %s é inválido.", field)
	}
	return apperror.ValidationFailed(field, msg)
}

// pageParams reads limit and offset query parameters.
func pageParams(r *http.Request, defLimit int) (limit, offset int, err error) {
	limit, offset = defLimit, 0
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			return 0, 0, apperror.ValidationFailed("limit", "Parâmetro limit inválido.")
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, apperror.ValidationFailed("offset", "Parâmetro offset inválido.")
		}
	}
	return limit, offset, nil
}
