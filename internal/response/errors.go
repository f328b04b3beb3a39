package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrConflict         ErrCode = "CONFLICT"
	ErrDependencyExists ErrCode = "DEPENDENCY_EXISTS"
	ErrActionForbidden  ErrCode = "ACTION_FORBIDDEN"

	// ─── SEB access control ────────────────────────────────────────────
	ErrNoSebBrowser           ErrCode = "SEB_BROWSER_REQUIRED"
	ErrInvalidSebConfigKey    ErrCode = "SEB_INVALID_CONFIG_KEY"
	ErrInvalidSebBrowserKey   ErrCode = "SEB_INVALID_BROWSER_KEY"
	ErrSebConfigNotConfigured ErrCode = "SEB_CONFIG_NOT_CONFIGURED"

	// ─── Media ─────────────────────────────────────────────────────────
	ErrFileRequired    ErrCode = "FILE_REQUIRED"
	ErrUnsupportedFile ErrCode = "UNSUPPORTED_FILE_TYPE"
	ErrFileTooLarge    ErrCode = "FILE_TOO_LARGE"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email/NISN atau kata sandi salah."
	case ErrSessionActive:
		return "Anda sudah login di perangkat lain."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."
	case ErrDependencyExists:
		return "Data tidak dapat dihapus karena masih digunakan oleh data lain."
	case ErrActionForbidden:
		return "Tindakan ini tidak diperbolehkan."

	// ─── SEB access control ────────────────────────────────────────────
	case ErrNoSebBrowser:
		return "Ujian ini hanya dapat diakses melalui Safe Exam Browser."
	case ErrInvalidSebConfigKey:
		return "Konfigurasi Safe Exam Browser Anda tidak sesuai untuk ujian ini."
	case ErrInvalidSebBrowserKey:
		return "Versi Safe Exam Browser Anda tidak diizinkan untuk ujian ini."
	case ErrSebConfigNotConfigured:
		return "Konfigurasi Safe Exam Browser belum tersedia untuk ujian ini."

	// ─── Media ─────────────────────────────────────────────────────────
	case ErrFileRequired:
		return "Unggah file diperlukan."
	case ErrUnsupportedFile:
		return "Jenis file tidak didukung."
	case ErrFileTooLarge:
		return "Ukuran file melebihi batas."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
