// messages.go — тексты ответов пользователю.
package dispatcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/share-bot/internal/domain/model"
)

// maxMessageLength — предел длины текста sendMessage в Bot API.
const maxMessageLength = 4096

// dateLayout — формат дат в подписях и уведомлениях.
const dateLayout = "2006-01-02 15:04:05 MST"

const (
	msgUnsupported     = "❌ Unsupported file type. Please upload a document, photo, video, or audio file."
	msgNotFound        = "❌ File ID not found."
	msgDeleteDenied    = "❌ You don't have permission to delete this file."
	msgRevokeDenied    = "❌ You don't have permission to revoke this file ID."
	msgRetry           = "⚠️ The change could not be saved. Please try again."
	msgShuttingDown    = "⏳ The bot is shutting down. Please try again later."
	msgInternal        = "❌ Something went wrong. Please try again later."
	msgNoOwnFiles      = "📂 You have no uploaded files."
	msgNoFiles         = "📂 No files uploaded."
	msgOwnFilesHeader  = "📂 Your Uploaded Files:"
	msgAllFilesHeader  = "📂 All Uploaded Files:"
	msgRevokeUsage     = "❌ Please provide a file ID to revoke."
	msgDownloadUsage   = "❌ Please provide a file ID to download.\nUsage: /download <file_id>"
	msgDeleteUsage     = "❌ Please provide a file ID to delete.\nUsage: /delete <file_id>"
	msgUploadSucceeded = "✅ File uploaded successfully!\nID: %s\nPublic URL: %s"
	msgRevokeSucceeded = "✅ File ID successfully updated!\nNew ID: %s\nPublic URL: %s"
	msgDeleteSucceeded = "File %s deleted successfully."
)

// welcomeText — справка по командам. /listall показывается только администратору.
func welcomeText(privileged bool) string {
	var b strings.Builder
	b.WriteString("Welcome to File Sharing Bot! Here are the available commands:\n")
	b.WriteString("/upload - Upload a file\n")
	b.WriteString("/download <file_id> - Download a file with the given ID\n")
	b.WriteString("/delete <file_id> - Delete a file with the given ID\n")
	b.WriteString("/revoke <file_id> - Issue a new ID for your file\n")
	b.WriteString("/list - View your uploaded files\n")
	if privileged {
		b.WriteString("/listall - View all uploaded files\n")
	}
	b.WriteString("Enjoy sharing files securely!")
	return b.String()
}

// publicURL — ссылка, открывающая бота с идентификатором (deep link /start <id>).
func publicURL(botUsername, id string) string {
	return "https://t.me/" + botUsername + "?start=" + id
}

func downloadCaption(rec model.FileRecord) string {
	return fmt.Sprintf("📥 **File Downloaded**:\n- File ID: %s\n- Uploaded by: %d\n- Upload Date: %s\n- Type: %s",
		rec.ID, rec.OwnerID, rec.CreatedAt.UTC().Format(dateLayout), rec.Kind)
}

func uploadNotice(uploader, id string, at time.Time, url string) string {
	return fmt.Sprintf("📄 **File Uploaded**:\nUploader: %s\nFile ID: %s\nUpload Date: %s\nPublic Link: %s",
		uploader, id, at.UTC().Format(dateLayout), url)
}

func deleteNotice(id, actor string, at time.Time) string {
	return fmt.Sprintf("🗑️ **File Deleted**:\n- File ID: %s\n- Deleted by: %s\n- Deletion Date: %s",
		id, actor, at.UTC().Format(dateLayout))
}

func revokeNotice(oldID, newID, actor string, at time.Time) string {
	return fmt.Sprintf("🔄 **File ID Updated**:\n- Old ID: %s\n- New ID: %s\n- Updated by: %s\n- Update Date: %s",
		oldID, newID, actor, at.UTC().Format(dateLayout))
}

// splitMessage собирает заголовок и строки в сообщения не длиннее limit.
// Строки не разрываются, заголовок входит только в первое сообщение.
func splitMessage(header string, lines []string, limit int) []string {
	var (
		parts   []string
		current strings.Builder
	)
	current.WriteString(header)

	for _, line := range lines {
		if current.Len() > 0 && current.Len()+1+len(line) > limit {
			parts = append(parts, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
