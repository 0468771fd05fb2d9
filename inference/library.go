// Package inference - ONNX Runtime scoring of Fast R-CNN region batches.
package inference

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// SharedLibPath returns the platform's onnxruntime shared library inside dir.
//
// Arguments:
//   - dir: Directory holding the onnxruntime builds, such as "third_party".
//
// Returns:
//   - string: Path to the library for the running OS and architecture.
//   - error: If no build exists for this platform.
func SharedLibPath(dir string) (string, error) {
	var name string
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			name = "onnxruntime.dll"
		}
	case "darwin":
		switch runtime.GOARCH {
		case "arm64":
			name = "onnxruntime_arm64.dylib"
		case "amd64":
			name = "onnxruntime_amd64.dylib"
		}
	case "linux":
		if runtime.GOARCH == "arm64" {
			name = "onnxruntime_arm64.so"
		} else {
			name = "onnxruntime.so"
		}
	}
	if name == "" {
		return "", errors.Errorf("no onnxruntime library for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	return filepath.Join(dir, name), nil
}

var envMu sync.Mutex

// initEnvironment loads the native library once per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		var err error
		if libPath, err = SharedLibPath("third_party"); err != nil {
			return err
		}
	}
	// Check if the shared library exists before trying to use it.
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}
