package config

// ConfigBackend abstracts platform-native config storage. The darwin
// backend shells out to `defaults` against the com.tfyn.app domain; every
// other platform uses a flat JSON file under the user config dir. Keys are
// the dotted names from the keySpec table.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
