package toolserver

import "encoding/json"

func encodeJSONBytes(v interface{}) ([]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return data, true
}

func decodeJSONBytes(data []byte, v interface{}) bool {
	return json.Unmarshal(data, v) == nil
}
