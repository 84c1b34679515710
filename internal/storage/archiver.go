package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Archiver stores uploaded originals in the session folder as
// {sessionID}/{sourceID}_{fileName}
type Archiver struct {
	folders *FolderManager
	files   FileStorage
	logger  *zap.Logger
}

// NewArchiver creates an archiver rooted at baseDir
func NewArchiver(baseDir string, logger *zap.Logger) *Archiver {
	return &Archiver{
		folders: NewFolderManager(baseDir, logger),
		files:   NewLocalFileStorage(baseDir, logger),
		logger:  logger,
	}
}

// Archive stores one original and returns its path
func (a *Archiver) Archive(ctx context.Context, sessionID, sourceID, fileName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	folder, err := a.folders.CreateSessionFolder(sessionID)
	if err != nil {
		return "", err
	}

	name := SanitizeFileName(fileName)
	if name == "" {
		name = "upload"
	}
	fullPath := filepath.Join(folder, a.folders.SanitizeFolderName(sourceID)+"_"+name)

	if err := a.files.SaveFileWithType(fullPath, data, fileTypeOf(name)); err != nil {
		return "", fmt.Errorf("failed to archive upload: %w", err)
	}

	a.logger.Info("Upload archived",
		zap.String("session_id", sessionID),
		zap.String("source_id", sourceID),
		zap.String("path", fullPath))

	return fullPath, nil
}

// Discard removes every original of a session
func (a *Archiver) Discard(sessionID string) error {
	return a.folders.DeleteSessionFolder(sessionID)
}

func fileTypeOf(name string) FileType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FileTypePDF
	case ".xlsx":
		return FileTypeExcel
	case ".jpg", ".jpeg", ".png", ".webp":
		return FileTypeImage
	default:
		return FileTypeGeneric
	}
}
