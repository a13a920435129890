package sync

import (
	"strconv"
	"strings"

	goimap "github.com/emersion/go-imap/v2"

	"github.com/aerionmail/mailcore/internal/email"
	"github.com/aerionmail/mailcore/internal/imap"
)

// textSections walks a BODYSTRUCTURE and returns the section paths worth a
// BODY.PEEK[section] fetch: every text/plain and text/html leaf, plus every
// attachment/inline leaf (needed for size/filename metadata; file content
// itself is fetched on demand, not here).
func textSections(bs goimap.BodyStructure) []string {
	if bs == nil {
		return nil
	}
	var out []string
	bs.Walk(func(path []int, part goimap.BodyStructure) bool {
		sp, ok := part.(*goimap.BodyStructureSinglePart)
		if !ok {
			return true
		}
		mt := strings.ToLower(sp.MediaType())
		if mt == "text/plain" || mt == "text/html" || isAttachmentPart(sp) {
			out = append(out, joinPath(path))
		}
		return true
	})
	return out
}

func isAttachmentPart(sp *goimap.BodyStructureSinglePart) bool {
	disp := sp.Disposition()
	if disp != nil && (strings.EqualFold(disp.Value, "attachment") || strings.EqualFold(disp.Value, "inline")) {
		return true
	}
	return false
}

func joinPath(path []int) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ".")
}

// extractBodies pairs the fetched section bytes back up against the
// BODYSTRUCTURE to produce decoded plain/HTML text plus attachment metadata,
// grounded on the teacher's charset-decoding helpers (charset.go).
func extractBodies(bs goimap.BodyStructure, parts []imap.BodyPart) (plainBody, htmlBody string, attachments []*email.Attachment) {
	if bs == nil {
		return "", "", nil
	}
	bySection := make(map[string][]byte, len(parts))
	for _, p := range parts {
		bySection[p.Section] = p.Data
	}

	bs.Walk(func(path []int, part goimap.BodyStructure) bool {
		sp, ok := part.(*goimap.BodyStructureSinglePart)
		if !ok {
			return true
		}
		section := joinPath(path)
		data, found := bySection[section]

		mt := strings.ToLower(sp.MediaType())
		if isAttachmentPart(sp) {
			if mt == "text/plain" || mt == "text/html" {
				// A text part marked attachment/inline: still an attachment,
				// not body text.
			}
			attachments = append(attachments, attachmentFromPart(sp, section, data))
			return true
		}

		if !found {
			return true
		}
		raw := decodeQuotedPrintableIfNeeded(data)
		charsetParam := sp.Params["charset"]
		if mt == "text/html" && charsetParam == "" {
			if detected := extractCharsetFromHTML(raw); detected != "" {
				charsetParam = detected
			}
		}
		decoded := decodeCharset(raw, charsetParam)
		switch mt {
		case "text/plain":
			if plainBody == "" {
				plainBody = decoded
			}
		case "text/html":
			if htmlBody == "" {
				htmlBody = decoded
			}
		}
		return true
	})

	return plainBody, htmlBody, attachments
}

func attachmentFromPart(sp *goimap.BodyStructureSinglePart, section string, data []byte) *email.Attachment {
	filename := sp.Filename()
	filename = decodeMIMEWord(filename)
	if filename == "" {
		filename = "attachment"
	}
	contentID := strings.Trim(sp.ID, "<>")
	isInline := false
	if disp := sp.Disposition(); disp != nil {
		isInline = strings.EqualFold(disp.Value, "inline") || contentID != ""
	}
	size := len(data)
	if size == 0 {
		size = int(sp.Size)
	}
	return &email.Attachment{
		Filename:         filename,
		MimeType:         sp.MediaType(),
		SizeBytes:        size,
		BodySection:      section,
		TransferEncoding: sp.Encoding,
		ContentID:        contentID,
		IsInline:         isInline,
	}
}
