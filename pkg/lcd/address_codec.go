package lcd

import (
	"github.com/clarketm/json"

	"github.com/meshbus/clustercontroller/pkg/address"
)

// DefaultAddressDeserializer decodes the JSON projection of an Address
// (the same persistedForm the routing table persists), as provided by a
// provider registering through this implementation's own stack.
// Providers registering through a different implementation of the
// distributed service bus are expected to supply their own
// AddressDeserializer matching whatever wire format they serialize with.
func DefaultAddressDeserializer(serialized string) (address.Address, error) {
	var pf address.PersistedForm
	if err := json.Unmarshal([]byte(serialized), &pf); err != nil {
		return address.Address{}, err
	}
	return address.UnmarshalPersisted(pf)
}

// DefaultAddressSerializer is the encoding counterpart, used by tests and
// by any in-repo provider that registers its own address with the LCD.
func DefaultAddressSerializer(addr address.Address) (string, error) {
	pf, ok := addr.MarshalPersisted()
	if !ok {
		return "", errNotPersistable
	}
	b, err := json.Marshal(pf)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var errNotPersistable = &addressNotPersistableError{}

type addressNotPersistableError struct{}

func (*addressNotPersistableError) Error() string {
	return "lcd: address cannot be serialized (in-process addresses are never persisted)"
}
