//go:build !nogpu

package wgpu

// compositeShaderWGSL is the keyed compositing kernel. One invocation
// handles one target pixel: clip and field-parity tests, key gating,
// then blending against the destination in-shader.
//
// Pixels travel as packed u32 (byte order R,G,B,A, premultiplied).
// Must match compositeParams in accelerator.go.
const compositeShaderWGSL = `
struct Params {
    target_width:  u32,
    target_height: u32,
    fill_x: i32,
    fill_y: i32,
    fill_w: u32,
    fill_h: u32,
    clip_x: i32,
    clip_y: i32,
    clip_w: u32,
    clip_h: u32,
    field_mask: u32,   // bit 0 = odd rows, bit 1 = even rows
    blend_mode: u32,   // 0 normal, 1 additive, 2 multiply, 3 screen, 4 add
    opacity: u32,      // 0..255
    use_local_key: u32,
    use_layer_key: u32,
    _pad: u32,
};

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read> src: array<u32>;
@group(0) @binding(2) var<storage, read> local_key: array<u32>;
@group(0) @binding(3) var<storage, read> layer_key: array<u32>;
@group(0) @binding(4) var<storage, read_write> dst: array<u32>;

fn unpack(p: u32) -> vec4<u32> {
    return vec4<u32>(p & 0xFFu, (p >> 8u) & 0xFFu, (p >> 16u) & 0xFFu, (p >> 24u) & 0xFFu);
}

fn pack(c: vec4<u32>) -> u32 {
    return c.x | (c.y << 8u) | (c.z << 16u) | (c.w << 24u);
}

fn mul255(a: u32, b: u32) -> u32 {
    return (a * b + 127u) / 255u;
}

fn sat_add(a: u32, b: u32) -> u32 {
    return min(a + b, 255u);
}

fn key_byte(buf_index: u32, idx: u32) -> u32 {
    var word: u32;
    if (buf_index == 0u) {
        word = local_key[idx / 4u];
    } else {
        word = layer_key[idx / 4u];
    }
    return (word >> ((idx % 4u) * 8u)) & 0xFFu;
}

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let lx = i32(gid.x);
    let ly = i32(gid.y);
    let x = params.clip_x + lx;
    let y = params.clip_y + ly;
    if (lx >= i32(params.clip_w) || ly >= i32(params.clip_h)) {
        return;
    }
    if (x < 0 || y < 0 || x >= i32(params.target_width) || y >= i32(params.target_height)) {
        return;
    }

    // Field parity: even rows are the upper field, odd rows the lower.
    let parity_bit = select(2u, 1u, (u32(y) % 2u) == 1u);
    if ((params.field_mask & parity_bit) == 0u) {
        return;
    }

    let sx = x - params.fill_x;
    let sy = y - params.fill_y;
    if (sx < 0 || sy < 0 || sx >= i32(params.fill_w) || sy >= i32(params.fill_h)) {
        return;
    }

    var s = unpack(src[u32(sy) * params.fill_w + u32(sx)]);

    if (params.opacity != 255u) {
        s = vec4<u32>(mul255(s.x, params.opacity), mul255(s.y, params.opacity),
                      mul255(s.z, params.opacity), mul255(s.w, params.opacity));
    }
    let di = u32(y) * params.target_width + u32(x);
    if (params.use_local_key != 0u) {
        let k = key_byte(0u, di);
        s = vec4<u32>(mul255(s.x, k), mul255(s.y, k), mul255(s.z, k), mul255(s.w, k));
    }
    if (params.use_layer_key != 0u) {
        let k = key_byte(1u, di);
        s = vec4<u32>(mul255(s.x, k), mul255(s.y, k), mul255(s.z, k), mul255(s.w, k));
    }

    let d = unpack(dst[di]);
    var o: vec4<u32>;
    switch (params.blend_mode) {
        case 1u: { // additive keyer
            o = vec4<u32>(sat_add(s.x, d.x), sat_add(s.y, d.y), sat_add(s.z, d.z), sat_add(s.w, d.w));
        }
        case 2u: { // multiply
            let inv = 255u - s.w;
            o = vec4<u32>(
                sat_add(sat_add(mul255(d.x, inv), mul255(s.x, 255u - d.w)), mul255(mul255(s.w, d.w), mul255(s.x, d.x))),
                sat_add(sat_add(mul255(d.y, inv), mul255(s.y, 255u - d.w)), mul255(mul255(s.w, d.w), mul255(s.y, d.y))),
                sat_add(sat_add(mul255(d.z, inv), mul255(s.z, 255u - d.w)), mul255(mul255(s.w, d.w), mul255(s.z, d.z))),
                sat_add(s.w, mul255(d.w, inv)));
        }
        case 3u: { // screen
            let inv = 255u - s.w;
            o = vec4<u32>(
                sat_add(sat_add(mul255(d.x, inv), mul255(s.x, 255u - d.w)), mul255(mul255(s.w, d.w), 255u - mul255(255u - s.x, 255u - d.x))),
                sat_add(sat_add(mul255(d.y, inv), mul255(s.y, 255u - d.w)), mul255(mul255(s.w, d.w), 255u - mul255(255u - s.y, 255u - d.y))),
                sat_add(sat_add(mul255(d.z, inv), mul255(s.z, 255u - d.w)), mul255(mul255(s.w, d.w), 255u - mul255(255u - s.z, 255u - d.z))),
                sat_add(s.w, mul255(d.w, inv)));
        }
        case 4u: { // add
            o = vec4<u32>(sat_add(s.x, d.x), sat_add(s.y, d.y), sat_add(s.z, d.z), sat_add(s.w, d.w));
        }
        default: { // normal: source over
            let inv = 255u - s.w;
            o = vec4<u32>(sat_add(s.x, mul255(d.x, inv)), sat_add(s.y, mul255(d.y, inv)),
                          sat_add(s.z, mul255(d.z, inv)), sat_add(s.w, mul255(d.w, inv)));
        }
    }
    dst[di] = pack(o);
}
`
