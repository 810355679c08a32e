package dispatcher

import (
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/harun/toolns/pkg/toolerr"
)

//go:embed guide/*.md
var guideFS embed.FS

const defaultTopic = "overview"

// GuideTopics lists the documentation topics served by /docs/runtime_guide.
func GuideTopics() []string {
	entries, err := guideFS.ReadDir("guide")
	if err != nil {
		return nil
	}
	topics := make([]string, 0, len(entries))
	for _, e := range entries {
		topics = append(topics, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(topics)
	return topics
}

func runtimeGuide(args map[string]interface{}) (Result, error) {
	topic := strings.ToLower(strings.TrimSpace(stringArg(args, "topic")))
	if topic == "" {
		topic = defaultTopic
	}

	var data []byte
	err := fs.ErrNotExist
	if !strings.ContainsAny(topic, "/.") {
		data, err = guideFS.ReadFile(path.Join("guide", topic+".md"))
	}
	if err != nil {
		return Result{}, toolerr.New(toolerr.KindNotFound,
			"no guide topic %q (available: %s)", topic, strings.Join(GuideTopics(), ", "))
	}
	return Result{Text: string(data)}, nil
}
