package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var (
	unsafeFolderChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)
	unsafeFileChars   = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)
)

// FolderManager manages one folder per receipt session
type FolderManager struct {
	baseDir string
	logger  *zap.Logger
}

// NewFolderManager creates a new FolderManager
func NewFolderManager(baseDir string, logger *zap.Logger) *FolderManager {
	return &FolderManager{
		baseDir: baseDir,
		logger:  logger,
	}
}

// CreateSessionFolder creates {baseDir}/{sessionID}/ and returns its path.
// An existing folder is not an error.
func (m *FolderManager) CreateSessionFolder(sessionID string) (string, error) {
	safeName := m.SanitizeFolderName(sessionID)
	if safeName == "" {
		return "", fmt.Errorf("cannot create folder: empty session ID")
	}

	folderPath := filepath.Join(m.baseDir, safeName)
	if err := os.MkdirAll(folderPath, 0755); err != nil {
		m.logger.Error("Failed to create session folder",
			zap.String("session_id", sessionID),
			zap.String("folder_path", folderPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to create folder: %w", err)
	}

	m.logger.Debug("Created session folder",
		zap.String("session_id", sessionID),
		zap.String("folder_path", folderPath))

	return folderPath, nil
}

// GetSessionFolderPath returns the path for a session folder
// Does not create the folder if it doesn't exist
func (m *FolderManager) GetSessionFolderPath(sessionID string) string {
	return filepath.Join(m.baseDir, m.SanitizeFolderName(sessionID))
}

// DeleteSessionFolder removes a session folder and all contents
func (m *FolderManager) DeleteSessionFolder(sessionID string) error {
	if m.SanitizeFolderName(sessionID) == "" {
		return fmt.Errorf("cannot delete folder: empty session ID")
	}
	folderPath := m.GetSessionFolderPath(sessionID)

	if _, err := os.Stat(folderPath); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(folderPath); err != nil {
		m.logger.Error("Failed to delete session folder",
			zap.String("session_id", sessionID),
			zap.String("folder_path", folderPath),
			zap.Error(err))
		return fmt.Errorf("failed to delete folder: %w", err)
	}

	m.logger.Debug("Deleted session folder",
		zap.String("session_id", sessionID),
		zap.String("folder_path", folderPath))

	return nil
}

// SanitizeFolderName keeps only alphanumerics, hyphens and underscores
func (m *FolderManager) SanitizeFolderName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	return unsafeFolderChars.ReplaceAllString(name, "")
}

// SanitizeFileName is SanitizeFolderName that also keeps dots and maps
// spaces to underscores. Leading dots are stripped.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, " ", "_")
	name = unsafeFileChars.ReplaceAllString(name, "")
	return strings.TrimLeft(name, ".")
}
