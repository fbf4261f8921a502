package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/koding/multiconfig"

	"github.com/execbox/execbox/workspace"
)

// Config defines the execution service configuration. Flags cover the
// server-side knobs; the documented environment variables of the
// deployment contract are applied on top of them.
type Config struct {
	// container
	DockerRuntime string          `flagUsage:"selects the OCI runtime for sandbox containers" default:"runc"`
	CPULimit      float64         `flagUsage:"fraction of one core per container" default:"0.8"`
	MemoryLimit   *workspace.Size `flagUsage:"memory cap per container (suffixed byte string)" default:"1G"`
	// wall clock per container in milliseconds
	ExecutionTimeLimit int    `flagUsage:"wall clock limit per container in ms" default:"10000"`
	HostTmpDir         string `flagUsage:"workspace root on the host (required when the service itself runs in a container)"`

	// images
	DockerImagePython         string `flagUsage:"python run image" default:"python:3"`
	DockerImagePythonUnittest string `flagUsage:"python assignment image" default:"execbox/python-unittest"`
	DockerImageJava           string `flagUsage:"java run image" default:"eclipse-temurin:21"`
	DockerImageJavaJunit      string `flagUsage:"java assignment image" default:"execbox/java-junit"`
	DockerImageCpp            string `flagUsage:"c++ run image" default:"gcc:13"`
	DockerImageCppDoctest     string `flagUsage:"c++ assignment image" default:"execbox/cpp-doctest"`
	DockerImagePythonSession  string `flagUsage:"python interactive session image" default:"execbox/python-session"`
	DockerImageJavaSession    string `flagUsage:"java interactive session image" default:"execbox/java-session"`

	// server
	HTTPAddr      string `flagUsage:"http binding address" default:":8080"`
	MonitorAddr   string `flagUsage:"metrics / pprof binding address" default:":8081"`
	Parallelism   int    `flagUsage:"number of concurrent batch executions (default: number of cpus)"`
	SanitizeRules string `flagUsage:"yaml file overriding the built-in sanitizer rules"`
	EnableMetrics bool   `flagUsage:"enable prometheus metrics endpoint"`
	EnableDebug   bool   `flagUsage:"enable pprof debug endpoint"`

	// logger
	LogLevel string `flagUsage:"log verbosity (debug, info, warn, error)" default:"warn"`
	Release  bool   `flagUsage:"release level of logs"`
	Silent   bool   `flagUsage:"do not print logs"`

	// show version and exit
	Version bool `flagUsage:"show version and exit"`
}

// Load loads configuration from defaults, flags and the documented
// environment variables.
func (c *Config) Load() error {
	cl := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.FlagLoader{CamelCase: true},
	)
	if err := cl.Load(c); err != nil {
		return err
	}
	if err := c.loadEnv(); err != nil {
		return err
	}
	if os.Getpid() == 1 {
		c.Release = true
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.NumCPU()
	}
	return nil
}

// loadEnv applies the environment variables of the deployment contract,
// overriding defaults and flags.
func (c *Config) loadEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	str("DOCKER_RUNTIME", &c.DockerRuntime)
	str("DOCKER_IMAGE_PYTHON", &c.DockerImagePython)
	str("DOCKER_IMAGE_PYTHON_UNITTEST", &c.DockerImagePythonUnittest)
	str("DOCKER_IMAGE_JAVA", &c.DockerImageJava)
	str("DOCKER_IMAGE_JAVA_JUNIT", &c.DockerImageJavaJunit)
	str("DOCKER_IMAGE_CPP", &c.DockerImageCpp)
	str("DOCKER_IMAGE_CPP_DOCTEST", &c.DockerImageCppDoctest)
	str("DOCKER_IMAGE_PYTHON_SESSION", &c.DockerImagePythonSession)
	str("DOCKER_IMAGE_JAVA_SESSION", &c.DockerImageJavaSession)
	str("HOST_TMP_DIR", &c.HostTmpDir)
	str("LOG_LEVEL", &c.LogLevel)

	if v, ok := os.LookupEnv("CPU_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CPU_LIMIT: %w", err)
		}
		c.CPULimit = f
	}
	if v, ok := os.LookupEnv("MEMORY_LIMIT"); ok {
		s, err := workspace.ParseSize(v)
		if err != nil {
			return fmt.Errorf("MEMORY_LIMIT: %w", err)
		}
		c.MemoryLimit = &s
	}
	if v, ok := os.LookupEnv("EXECUTION_TIME_LIMIT"); ok {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EXECUTION_TIME_LIMIT: %w", err)
		}
		c.ExecutionTimeLimit = ms
	}
	return nil
}

// NanoCPUs converts the CPU fraction to the runtime's nano-cpu unit.
func (c *Config) NanoCPUs() int64 {
	return int64(c.CPULimit * 1e9)
}

// MemoryBytes returns the memory cap in bytes.
func (c *Config) MemoryBytes() int64 {
	if c.MemoryLimit == nil {
		return 1 << 30
	}
	return int64(c.MemoryLimit.Byte())
}
