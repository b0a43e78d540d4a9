package export

import "net"

func ipString(raw []byte) string {
	return net.IP(raw).String()
}

func macString(raw []byte) string {
	return net.HardwareAddr(raw).String()
}

func stringValue(raw []byte) string {
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	return string(raw[:end])
}
