package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/camerad/emulator"
	"github.jpl.nasa.gov/bdube/camerad/imgout"
	"github.jpl.nasa.gov/bdube/camerad/imgrec"
	"github.jpl.nasa.gov/bdube/camerad/server"
	"github.jpl.nasa.gov/bdube/camerad/server/camerad"
	"github.jpl.nasa.gov/bdube/camerad/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "camerad.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`
}

type writer struct {
	// Stall is the no-progress budget of the frame sequence, in seconds
	Stall float64 `yaml:"Stall"`

	// Deadline is the longest one frame may wait for its turn, in seconds
	Deadline float64 `yaml:"Deadline"`
}

type mqtt struct {
	Broker   string `yaml:"Broker"`
	ClientID string `yaml:"ClientID"`
	Topic    string `yaml:"Topic"`
	QoS      int    `yaml:"QoS"`
}

type emu struct {
	FrameRate float64 `yaml:"FrameRate"`
	Readout   float64 `yaml:"Readout"`
	Bias      float64 `yaml:"Bias"`
	Noise     float64 `yaml:"Noise"`
	Step      float64 `yaml:"Step"`
}

type config struct {
	Addr     string           `yaml:"Addr"`
	Root     string           `yaml:"Root"`
	Debug    bool             `yaml:"Debug"`
	Sink     string           `yaml:"Sink"`
	KeyFile  string           `yaml:"KeyFile"`
	Metrics  string           `yaml:"Metrics"`
	Recorder recorder         `yaml:"Recorder"`
	Writer   writer           `yaml:"Writer"`
	MQTT     mqtt             `yaml:"MQTT"`
	Detector camerad.Detector `yaml:"Detector"`
	Emulator emu              `yaml:"Emulator"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:     ":8000",
		Root:     "/",
		Sink:     "disk",
		KeyFile:  "camerad-keys.yml",
		Metrics:  "camerad",
		Recorder: recorder{Root: "/data", Prefix: "image"},
		Writer:   writer{Stall: 5, Deadline: 60},
		MQTT:     mqtt{Broker: "localhost:1883", ClientID: "camerad", Topic: "camerad", QoS: 1},
		Detector: camerad.Detector{Name: "EMULATOR", Cols: 1024, Rows: 1024, Datatype: "uint16", AmpsX: 2, AmpsY: 2},
		Emulator: emu{Bias: 1000, Noise: 5, Step: 10}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `camerad takes exposures and writes them as FITS files or data cubes,
or publishes them to an MQTT broker, under control over HTTP.

Usage:
	camerad <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `camerad is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

Sink is disk or mqtt.  Disk writes files named by the Recorder section,
Root/yyyy-mm-dd/PrefixNNNNNN.fits; mqtt publishes every exposure under
the MQTT Topic with the frames compressed.

KeyFile is a yaml file of user FITS keywords, KEYWORD: VALUE//COMMENT.
It is loaded at startup and again whenever it changes.  Keywords can also
be added and removed over HTTP at /keys.

Writer.Stall is how long, in seconds, the frames of a data cube may go
without any of them being written before the exposure is failed.
Writer.Deadline bounds the wait of any one frame.

Detector.Datatype is one of uint16, int16, int32, float32.  AmpsX and AmpsY
split the detector into amplifier sections, written to AMPSEC.

Prometheus metrics are served at /metrics under the Metrics namespace.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("camerad version %v\n", Version)
}

func run() {
	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}
	sink, err := imgout.New(cfg.Sink, imgout.Config{
		Debug:    cfg.Debug,
		Stall:    util.SecsToDuration(cfg.Writer.Stall),
		Deadline: util.SecsToDuration(cfg.Writer.Deadline),
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Topic:    cfg.MQTT.Topic,
		QoS:      byte(cfg.MQTT.QoS),
	})
	if err != nil {
		log.Fatal(err)
	}
	if t, ok := sink.(*imgout.TransportSink); ok {
		defer t.Shutdown()
	}

	em := &emulator.Emulator{
		FrameRate: cfg.Emulator.FrameRate,
		Readout:   util.SecsToDuration(cfg.Emulator.Readout),
		Bias:      cfg.Emulator.Bias,
		Noise:     cfg.Emulator.Noise,
		Step:      cfg.Emulator.Step,
	}
	r := &imgrec.Recorder{Root: cfg.Recorder.Root, Prefix: cfg.Recorder.Prefix}
	s := camerad.New(sink, em, r, cfg.Detector)

	if cfg.KeyFile != "" {
		if err := watchKeys(cfg.KeyFile, s.UserKeys); err != nil {
			log.Printf("user keyword file %s not loaded: %v", cfg.KeyFile, err)
		}
	}

	collectors := s.Collectors(cfg.Metrics)
	if d, ok := sink.(*imgout.DiskSink); ok {
		collectors = append(collectors, d.W.Collectors(cfg.Metrics)...)
	}
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			log.Printf("metric not registered: %v", err)
		}
	}

	// clean up the submux string
	hndlrS := server.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Handle("/metrics", promhttp.Handler())
	root.Mount(hndlrS, s.Router())
	addr := cfg.Addr + cfg.Root
	log.Println("now listening for requests at ", addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, root))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
