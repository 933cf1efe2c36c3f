package domain

type ToastKind string

const (
	ToastInfo    ToastKind = "info"
	ToastSuccess ToastKind = "success"
	ToastWarning ToastKind = "warning"
	ToastError   ToastKind = "error"
)

type Toast struct {
	Kind        ToastKind         `json:"kind"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}
