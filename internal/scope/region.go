package scope

import "strings"

// Administrative-division code tables. Only the provinces plus the cities
// and districts seen in catalogue feeds so far; unknown codes fall through
// to the raw code.
var provinces = map[string]string{
	"110000": "北京市", "120000": "天津市", "130000": "河北省", "140000": "山西省",
	"150000": "内蒙古自治区", "210000": "辽宁省", "220000": "吉林省", "230000": "黑龙江省",
	"310000": "上海市", "320000": "江苏省", "330000": "浙江省", "340000": "安徽省",
	"350000": "福建省", "360000": "江西省", "370000": "山东省", "410000": "河南省",
	"420000": "湖北省", "430000": "湖南省", "440000": "广东省", "450000": "广西壮族自治区",
	"460000": "海南省", "500000": "重庆市", "510000": "四川省", "520000": "贵州省",
	"530000": "云南省", "540000": "西藏自治区", "610000": "陕西省", "620000": "甘肃省",
	"630000": "青海省", "640000": "宁夏回族自治区", "650000": "新疆维吾尔自治区",
}

var cities = map[string]string{
	"330100": "杭州市", "330200": "宁波市", "330300": "温州市", "330400": "嘉兴市",
	"330500": "湖州市", "330600": "绍兴市", "330700": "金华市", "330800": "衢州市",
	"330900": "舟山市", "331000": "台州市", "331100": "丽水市",
	"320100": "南京市", "320200": "无锡市", "320500": "苏州市", "320600": "南通市",
}

var districts = map[string]string{
	"330101": "上城区", "330102": "下城区", "330103": "江干区", "330104": "拱墅区",
	"330105": "西湖区", "330106": "滨江区", "330107": "萧山区", "330108": "余杭区",
	"330109": "富阳区", "330114": "临安区",
}

// RegionName resolves an administrative-division code to its name. Unknown
// codes are returned unchanged.
func RegionName(code string) string {
	if code == "" {
		return ""
	}
	if n, ok := districts[code]; ok {
		return n
	}
	if n, ok := cities[code]; ok {
		return n
	}
	if n, ok := provinces[code]; ok {
		return n
	}
	// 6-digit codes roll up to their city or province.
	if len(code) == 6 {
		if n, ok := cities[code[:4]+"00"]; ok {
			return n
		}
		if n, ok := provinces[code[:2]+"0000"]; ok {
			return n
		}
	}
	return code
}

// RegionLabel joins the resolved names of a (province, city, district)
// tuple. All-empty input labels the nationwide view.
func RegionLabel(province, city, district string) string {
	var parts []string
	for _, code := range []string{province, city, district} {
		if code == "" {
			continue
		}
		parts = append(parts, RegionName(code))
	}
	if len(parts) == 0 {
		return "全国"
	}
	return strings.Join(parts, " ")
}
