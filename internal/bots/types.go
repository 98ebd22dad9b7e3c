package bots

import "strings"

// System is a court system a bot automates.
type System string

const (
	SystemProjudi System = "PROJUDI"
	SystemESAJ    System = "ESAJ"
	SystemElaw    System = "ELAW"
	SystemJusds   System = "JUSDS"
	SystemPJe     System = "PJE"
)

// Path is the lower-case form used in endpoint paths.
func (s System) Path() string { return strings.ToLower(string(s)) }

// FormKind selects which inputs a bot needs to start.
type FormKind string

const (
	FormFileAuth      FormKind = "file_auth"
	FormMultipleFiles FormKind = "multiple_files"
	FormOnlyAuth      FormKind = "only_auth"
	FormOnlyFile      FormKind = "only_file"
	FormPJe           FormKind = "pje"
	FormPJeProtocolo  FormKind = "pje_protocolo"
)

// Bot is one automation from the backend listing.
type Bot struct {
	ID          int      `json:"Id"`
	DisplayName string   `json:"display_name"`
	System      System   `json:"sistema"`
	FormKind    FormKind `json:"configuracao_form"`
	Category    string   `json:"categoria"`
	Description string   `json:"descricao"`
}

// Credential is a stored login the backend can use for a system.
type Credential struct {
	Value *int   `json:"value"`
	Text  string `json:"text"`
}

// Execution statuses.
const (
	StatusInitializing = "Inicializando"
	StatusRunning      = "Em Execução"
	StatusFinished     = "Finalizado"
)

// Execution is a run as the backend reports it.
type Execution struct {
	ID        int    `json:"id"`
	Bot       string `json:"bot"`
	PID       string `json:"pid"`
	Status    string `json:"status"`
	StartedAt string `json:"data_inicio"`
	EndedAt   string `json:"data_fim"`
}

type botListResponse struct {
	Listagem []Bot `json:"listagem"`
}

type credentialsResponse struct {
	Credenciais []Credential `json:"credenciais"`
}

type startResponse struct {
	PID     string `json:"pid"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type downloadResponse struct {
	Content  string `json:"content"`
	FileName string `json:"file_name"`
}
