package apphome

import (
	"os"
	"path/filepath"
)

// folders is the layout created under the home directory.
var folders = []string{
	TranscriptsDir,
	InputDir,
	CaptureDir,
	DBDir,
	LogsDir,
	ModelsDir,
	WorkDir,
}

// InitResult reports what Init did.
type InitResult struct {
	AlreadyExisted bool
	FoldersCreated []string
}

// Init creates the home directory layout at path. It is safe to run again:
// an existing home only gets its missing folders. writeConfig is called when
// there is no config yet.
func Init(path string, writeConfig func(home string) error) (*InitResult, error) {
	result := &InitResult{AlreadyExisted: IsInitialized(path)}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}

	for _, folder := range folders {
		dir := filepath.Join(path, folder)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		result.FoldersCreated = append(result.FoldersCreated, folder)
	}

	if !result.AlreadyExisted && writeConfig != nil {
		if err := writeConfig(path); err != nil {
			return nil, err
		}
	}

	return result, nil
}
