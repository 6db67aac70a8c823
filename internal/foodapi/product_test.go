package foodapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNutriments_DropsNonFiniteValues(t *testing.T) {
	var p Product
	err := json.Unmarshal([]byte(`{"code":"1","nutriments":{
		"fat_100g":"NaN","sugars_100g":"Infinity","salt_100g":"-Inf","proteins_100g":"4.2"
	}}`), &p)
	require.NoError(t, err)

	assert.Equal(t, Nutriments{"proteins_100g": 4.2}, p.Nutriments)

	_, err = json.Marshal(p)
	assert.NoError(t, err)
}
