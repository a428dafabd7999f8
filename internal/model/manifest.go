package model

import (
	"fmt"
	"path"
)

// DefaultRepo is the Hugging Face repository that publishes the Supertonic
// graphs and voice styles.
const DefaultRepo = "Supertone/supertonic"

type Manifest struct {
	Repo  string      `json:"repo"`
	Files []ModelFile `json:"files"`
}

type ModelFile struct {
	Filename string `json:"filename"`
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

var (
	assetGraphs = []string{"duration_predictor", "text_encoder", "vector_estimator", "vocoder"}
	assetVoices = []string{"M1", "M2", "F1", "F2"}
)

func PinnedManifest(repo string) (Manifest, error) {
	switch repo {
	case DefaultRepo:
		const rev = "main"

		files := make([]ModelFile, 0, len(assetGraphs)+2+len(assetVoices))
		for _, g := range assetGraphs {
			files = append(files, ModelFile{Filename: path.Join("onnx", g+".onnx"), Revision: rev})
		}
		files = append(files,
			ModelFile{Filename: "onnx/tts.json", Revision: rev},
			ModelFile{Filename: "onnx/unicode_indexer.json", Revision: rev},
		)
		for _, v := range assetVoices {
			files = append(files, ModelFile{Filename: path.Join("voice_styles", v+".json"), Revision: rev})
		}

		return Manifest{Repo: repo, Files: files}, nil
	default:
		return Manifest{}, fmt.Errorf("no pinned manifest for repo %q", repo)
	}
}
