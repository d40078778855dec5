package config

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".cfdump"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// MaxRows is the maximum number of unwind table rows the table
	// command prints for a single function.
	MaxRows *int `yaml:"max-rows,omitempty"`

	// RegisterNaming selects how registers are shown in unwind rules:
	// "dwarf" prints the raw register numbers, "amd64", "arm64" and
	// "386" print the platform names.
	RegisterNaming string `yaml:"register-naming"`

	// PreferEhFrame makes the eh_frame section the preferred source of
	// call frame information even when debug_frame is present.
	PreferEhFrame bool `yaml:"prefer-eh-frame"`

	// Table PC column color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	TableLineColor int `yaml:"table-line-color"`

	// DebugInfoDirectories is the list of directories used
	// in order to resolve external debug info files.
	DebugInfoDirectories []string `yaml:"debug-info-directories"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for cfdump.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Uncomment the following line and set your preferred ANSI foreground color
# for the PC column of the table command (if unset, default is 34, dark
# blue). See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# table-line-color: 34

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# How registers are named in unwind rules. "dwarf" prints the raw DWARF
# register numbers, "amd64", "arm64" and "386" print the platform names.
# register-naming: amd64

# Maximum number of unwind table rows printed for a single function.
# max-rows: 64

# Uncomment the following line to read call frame information from eh_frame
# even when a debug_frame section is present.
# prefer-eh-frame: true

# List of directories to use when searching for separate debug info files.
debug-info-directories: ["/usr/lib/debug/.build-id"]
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}

// ConfigureList writes the list of configuration values to w.
func ConfigureList(w io.Writer, config interface{}, tag string) {
	it := IterateConfiguration(config, tag)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == "" {
			continue
		}
		writeField(w, field, fieldName)
	}
}

// ConfigureListByName returns the value of configuration variable cfgname.
func ConfigureListByName(sargs interface{}, cfgname, tag string) string {
	if cfgname == "" {
		return ""
	}
	buf := &bytes.Buffer{}
	it := IterateConfiguration(sargs, tag)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == cfgname {
			writeField(buf, field, fieldName)
			break
		}
	}
	return buf.String()
}

type configureIterator struct {
	sargsValue reflect.Value
	sargsType  reflect.Type
	tag        string
	i          int
}

// IterateConfiguration returns an iterator over the fields of conf that
// carry the given struct tag.
func IterateConfiguration(conf interface{}, tag string) *configureIterator {
	sargsValue := reflect.ValueOf(conf)
	if sargsValue.Kind() == reflect.Ptr {
		sargsValue = sargsValue.Elem()
	}
	return &configureIterator{sargsValue, sargsValue.Type(), tag, -1}
}

func (it *configureIterator) Next() bool {
	it.i++
	return it.i < it.sargsType.NumField()
}

func (it *configureIterator) Field() (name string, field reflect.Value) {
	name = it.sargsType.Field(it.i).Tag.Get(it.tag)
	if comma := strings.Index(name, ","); comma >= 0 {
		name = name[:comma]
	}
	field = it.sargsValue.Field(it.i)
	return
}

func writeField(w io.Writer, field reflect.Value, fieldName string) {
	if field.Kind() == reflect.Ptr && field.IsNil() {
		fmt.Fprintf(w, "%s\t<not defined>\n", fieldName)
		return
	}
	if field.Kind() == reflect.Ptr {
		field = field.Elem()
	}
	fmt.Fprintf(w, "%s\t%v\n", fieldName, field)
}

// ConfigureFindFieldByName returns the configuration field of conf named
// name.
func ConfigureFindFieldByName(conf interface{}, name, tag string) reflect.Value {
	it := IterateConfiguration(conf, tag)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == name {
			return field
		}
	}
	return reflect.ValueOf(nil)
}

// ConfigureSetSimple parses rest into the configuration field.
func ConfigureSetSimple(rest, cfgname string, field reflect.Value) error {
	simpleArg := func(typ reflect.Type) (reflect.Value, error) {
		switch typ.Kind() {
		case reflect.Int:
			n, err := strconv.Atoi(rest)
			if err != nil {
				return reflect.ValueOf(nil), fmt.Errorf("argument to %q must be a number", cfgname)
			}
			return reflect.ValueOf(&n).Elem(), nil
		case reflect.Bool:
			v := rest == "true"
			return reflect.ValueOf(&v).Elem(), nil
		case reflect.String:
			unquoted, err := strconv.Unquote(rest)
			if err == nil {
				rest = unquoted
			}
			return reflect.ValueOf(&rest).Elem(), nil
		default:
			return reflect.ValueOf(nil), fmt.Errorf("unsupported type for configuration %q", cfgname)
		}
	}
	if field.Kind() == reflect.Ptr {
		if rest == "default" {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		simple, err := simpleArg(field.Type().Elem())
		if err != nil {
			return err
		}
		field.Set(reflect.New(field.Type().Elem()))
		field.Elem().Set(simple)
		return nil
	}
	simple, err := simpleArg(field.Type())
	if err != nil {
		return err
	}
	field.Set(simple)
	return nil
}

// Split2PartsBySpace splits s into a name and the rest of the line.
func Split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}
