package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrExamNotAvailable     ErrCode = "EXAM_NOT_AVAILABLE"
	ErrExamSessionActive    ErrCode = "EXAM_SESSION_ACTIVE"
	ErrExamClosed           ErrCode = "EXAM_CLOSED"
	ErrExamNotRunning       ErrCode = "EXAM_NOT_RUNNING"
	ErrAwaitingRecovery     ErrCode = "AWAITING_RECOVERY"
	ErrNoPendingRecovery    ErrCode = "NO_PENDING_RECOVERY"
	ErrNotRecoverable       ErrCode = "NOT_RECOVERABLE"
	ErrUnknownQuestion      ErrCode = "UNKNOWN_QUESTION"
	ErrNavigationOutOfRange ErrCode = "NAVIGATION_OUT_OF_RANGE"
	ErrProgressMayBeLost    ErrCode = "PROGRESS_MAY_BE_LOST"
	ErrSaveFailed           ErrCode = "SAVE_FAILED"
	ErrSubmitFailed         ErrCode = "SUBMIT_FAILED"

	// ─── Upstream ──────────────────────────────────────────────────────
	ErrUpstreamUnavailable ErrCode = "UPSTREAM_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "Endpoint ini hanya dapat diakses oleh siswa."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Data yang dikirim tidak valid."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Format payload tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Data tidak ditemukan."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Ujian tidak tersedia untuk Anda."
	case ErrExamSessionActive:
		return "Ujian ini sedang dikerjakan di sesi lain."
	case ErrExamClosed:
		return "Sesi ujian telah ditutup."
	case ErrExamNotRunning:
		return "Ujian tidak sedang berlangsung."
	case ErrAwaitingRecovery:
		return "Pilih untuk melanjutkan atau membuang progres sebelumnya terlebih dahulu."
	case ErrNoPendingRecovery:
		return "Tidak ada progres yang menunggu keputusan."
	case ErrNotRecoverable:
		return "Progres sebelumnya tidak dapat dipulihkan. Ujian dimulai dari awal."
	case ErrUnknownQuestion:
		return "Soal tidak termasuk dalam ujian ini."
	case ErrNavigationOutOfRange:
		return "Nomor soal atau halaman di luar jangkauan."
	case ErrProgressMayBeLost:
		return "Jawaban terakhir belum tersimpan di server. Konfirmasi untuk tetap keluar."
	case ErrSaveFailed:
		return "Gagal menyimpan jawaban ke server. Jawaban tetap tersimpan di perangkat ini."
	case ErrSubmitFailed:
		return "Gagal mengumpulkan ujian. Silakan coba lagi."

	// ─── Upstream ──────────────────────────────────────────────────────
	case ErrUpstreamUnavailable:
		return "Server ujian tidak dapat dihubungi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan pada server."

	default:
		return "Terjadi kesalahan."
	}
}
