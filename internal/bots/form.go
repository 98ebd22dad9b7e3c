package bots

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// RunForm is the body of a run request. Which fields are required depends
// on the bot's FormKind.
type RunForm struct {
	FormKind            FormKind `json:"configuracao_form" validate:"required,oneof=file_auth multiple_files only_auth only_file pje pje_protocolo"`
	BotID               int      `json:"bot_id" validate:"required,gt=0"`
	SocketID            string   `json:"sid_filesocket" validate:"required"`
	Seed                string   `json:"seed,omitempty"`
	Credential          *int     `json:"credencial,omitempty"`
	Spreadsheet         string   `json:"planilha_xlsx,omitempty" validate:"omitempty,excludesall=/\\"`
	Attachments         []string `json:"anexos,omitempty" validate:"omitempty,dive,required,excludesall=/\\"`
	Certificate         string   `json:"certificado,omitempty" validate:"omitempty,endswith=.pfx"`
	CertificatePassword string   `json:"senha_certificado,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func formValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		validate.RegisterStructValidation(requiredByKind, RunForm{})
	})
	return validate
}

// requiredByKind reports the inputs each form kind cannot run without.
func requiredByKind(sl validator.StructLevel) {
	f := sl.Current().Interface().(RunForm)
	needCredential := func() {
		if f.Credential == nil {
			sl.ReportError(f.Credential, "credencial", "Credential", "required", string(f.FormKind))
		}
	}
	needSpreadsheet := func() {
		if f.Spreadsheet == "" {
			sl.ReportError(f.Spreadsheet, "planilha_xlsx", "Spreadsheet", "required", string(f.FormKind))
		}
	}
	needAttachments := func() {
		if len(f.Attachments) == 0 {
			sl.ReportError(f.Attachments, "anexos", "Attachments", "required", string(f.FormKind))
		}
	}
	needCertificate := func() {
		if f.Certificate == "" {
			sl.ReportError(f.Certificate, "certificado", "Certificate", "required", string(f.FormKind))
		}
		if f.CertificatePassword == "" {
			sl.ReportError(f.CertificatePassword, "senha_certificado", "CertificatePassword", "required", string(f.FormKind))
		}
	}

	switch f.FormKind {
	case FormFileAuth:
		needCredential()
		needSpreadsheet()
	case FormOnlyFile:
		needSpreadsheet()
	case FormOnlyAuth:
		needCredential()
	case FormMultipleFiles:
		needCredential()
		needSpreadsheet()
		needAttachments()
	case FormPJe:
		needSpreadsheet()
		needCertificate()
	case FormPJeProtocolo:
		needSpreadsheet()
		needAttachments()
		needCertificate()
	}
}

// Validate checks the form against its kind's required inputs.
func (f RunForm) Validate() error {
	err := formValidator().Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s %q is not supported", fe.Field(), fe.Value()))
		case "endswith":
			msgs = append(msgs, fmt.Sprintf("%s must end with %s", fe.Field(), fe.Param()))
		case "excludesall":
			msgs = append(msgs, fmt.Sprintf("%s must be a bare file name", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid run form: %s", strings.Join(msgs, "; "))
}

// Needs reports which inputs the form kind uses, for prompting.
func (k FormKind) Needs() (credential, spreadsheet, attachments, certificate bool) {
	switch k {
	case FormFileAuth:
		return true, true, false, false
	case FormOnlyFile:
		return false, true, false, false
	case FormOnlyAuth:
		return true, false, false, false
	case FormMultipleFiles:
		return true, true, true, false
	case FormPJe:
		return false, true, false, true
	case FormPJeProtocolo:
		return false, true, true, true
	}
	return false, false, false, false
}
