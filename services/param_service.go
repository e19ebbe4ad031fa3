package services

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"gopkg.in/yaml.v3"
)

// ParamService is a read-only parameter server backed by a YAML file.
// Names are slash separated paths into the document, e.g.
// "/user_node/video_udp_port".
type ParamService struct {
	mu     sync.RWMutex
	params map[string]interface{}
	logger customlog.Logger
}

// NewParamService loads params from path. A missing file yields an empty
// parameter set so every lookup falls back to its default.
func NewParamService(path string, logger customlog.Logger) (*ParamService, error) {
	s := &ParamService{params: map[string]interface{}{}, logger: logger}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Warnf("Parameter file %s not found, using defaults", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading parameter file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.params); err != nil {
		return nil, fmt.Errorf("error parsing parameter file: %w", err)
	}
	if s.params == nil {
		s.params = map[string]interface{}{}
	}

	logger.Infof("Loaded parameters from %s", path)
	return s, nil
}

// Get returns the value at name.
func (s *ParamService) Get(name string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var node interface{} = s.params
	for _, part := range strings.Split(strings.Trim(name, "/"), "/") {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if node, ok = m[part]; !ok {
			return nil, false
		}
	}
	return node, true
}

// GetInt returns the integer at name, or def when it is absent or not an
// integer.
func (s *ParamService) GetInt(name string, def int) int {
	v, ok := s.Get(name)
	if !ok {
		s.logger.Infof("Parameter %s not set, using default %d", name, def)
		return def
	}

	switch n := v.(type) {
	case int:
		return n
	case float64:
		if n == math.Trunc(n) {
			return int(n)
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	s.logger.Warnf("Parameter %s=%v is not an integer, using default %d", name, v, def)
	return def
}
